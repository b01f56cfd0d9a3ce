// Package knowledge 提供智能合约安全知识检索，供研究员与 LLM 智能体引用。
package knowledge
