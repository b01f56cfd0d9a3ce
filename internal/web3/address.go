package web3

import (
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// FindAddress 返回文本中出现的第一个合法合约地址（EIP-55 格式）。
func FindAddress(text string) (string, bool) {
	for _, candidate := range addressPattern.FindAllString(text, -1) {
		if common.IsHexAddress(candidate) {
			return common.HexToAddress(candidate).Hex(), true
		}
	}
	return "", false
}
