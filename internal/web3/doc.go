// Package web3 houses blockchain connectivity utilities: the chain client
// abstraction, multi-chain YAML definitions and the EVM implementation used
// by the analyzer agent to read deployed bytecode.
package web3
