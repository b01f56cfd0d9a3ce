package runners

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Finding 是字节码扫描得到的一条可疑模式。
type Finding struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Offset   int    `json:"offset"`
	Detail   string `json:"detail"`
}

// BytecodeReport 汇总一次扫描的结果。
type BytecodeReport struct {
	CodeSize int            `json:"codeSize"`
	Opcodes  map[string]int `json:"opcodes,omitempty"`
	Findings []Finding      `json:"findings"`
}

var watchedOpcodes = map[vm.OpCode]struct{}{
	vm.CALL:         {},
	vm.CALLCODE:     {},
	vm.DELEGATECALL: {},
	vm.STATICCALL:   {},
	vm.SELFDESTRUCT: {},
	vm.ORIGIN:       {},
	vm.SSTORE:       {},
}

// scanBytecode 线性扫描运行时字节码，跳过 PUSH 携带的立即数。
//
// 结果只是启发式信号：CALL 之后出现 SSTORE 提示可能存在重入，
// DELEGATECALL、CALLCODE、SELFDESTRUCT 与 ORIGIN 分别对应常见的高危用法。
func scanBytecode(code []byte) BytecodeReport {
	report := BytecodeReport{CodeSize: len(code), Opcodes: map[string]int{}, Findings: []Finding{}}
	lastCall := -1
	storeAfterCall := false

	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op.IsPush() {
			pc += int(op - vm.PUSH0)
			continue
		}
		if _, ok := watchedOpcodes[op]; !ok {
			continue
		}
		report.Opcodes[op.String()]++

		switch op {
		case vm.CALL:
			lastCall = pc
		case vm.SSTORE:
			if lastCall >= 0 && !storeAfterCall {
				storeAfterCall = true
				report.Findings = append(report.Findings, Finding{
					Pattern:  "state-write-after-call",
					Severity: "Critical",
					Offset:   pc,
					Detail:   fmt.Sprintf("SSTORE at %d follows CALL at %d; balances may be updated after the external call", pc, lastCall),
				})
			}
		case vm.DELEGATECALL, vm.CALLCODE:
			report.Findings = append(report.Findings, Finding{
				Pattern:  "delegated-execution",
				Severity: "High",
				Offset:   pc,
				Detail:   fmt.Sprintf("%s executes foreign code in this contract's storage context", op),
			})
		case vm.SELFDESTRUCT:
			report.Findings = append(report.Findings, Finding{
				Pattern:  "selfdestruct",
				Severity: "High",
				Offset:   pc,
				Detail:   "contract can be destroyed; verify the call path is restricted",
			})
		case vm.ORIGIN:
			report.Findings = append(report.Findings, Finding{
				Pattern:  "tx-origin",
				Severity: "Medium",
				Offset:   pc,
				Detail:   "tx.origin is read; authorisation based on it is phishable",
			})
		}
	}
	return report
}

// suggestedProfile 把扫描结果映射到最相关的漏洞画像。
func (r BytecodeReport) suggestedProfile() (profile, bool) {
	for _, f := range r.Findings {
		switch f.Pattern {
		case "state-write-after-call":
			return profileByKey("reentrancy")
		case "selfdestruct", "tx-origin", "delegated-execution":
			return profileByKey("access-control")
		}
	}
	return profile{}, false
}
