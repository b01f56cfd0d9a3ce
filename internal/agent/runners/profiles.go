package runners

import "strings"

// profile 是一类漏洞的分析、修复与监控模板。
type profile struct {
	key              string
	vulnerability    string
	keywords         []string
	components       []string
	severity         string
	exploitability   string
	technicalDetails string
	impact           string
	solution         Solution
	monitor          monitorSpec
}

type monitorSpec struct {
	name        string
	description string
	features    []string
}

var profiles = []profile{
	{
		key:            "reentrancy",
		vulnerability:  "Reentrancy Attack",
		keywords:       []string{"reentrancy", "re-entrancy", "reentrant", "withdraw", "external call"},
		components:     []string{"LendingPool.sol", "FlashLoan.sol"},
		severity:       "Critical",
		exploitability: "High",
		technicalDetails: `The withdraw path calls an external contract before updating the user's balance:

    function _withdraw(address token, uint256 amount) internal {
        IERC20(token).transfer(msg.sender, amount);
        userBalances[msg.sender][token] -= amount;
    }

An attacker can call back into _withdraw before the balance is updated and drain the contract.`,
		impact: "Complete drainage of protocol funds if exploited.",
		solution: Solution{
			Title:    "Reentrancy Vulnerability Mitigation",
			Approach: "Implement the Checks-Effects-Interactions pattern and add a reentrancy guard",
			Implementation: `bool private _notEntered = true;

modifier nonReentrant() {
    require(_notEntered, "ReentrancyGuard: reentrant call");
    _notEntered = false;
    _;
    _notEntered = true;
}

function _withdraw(address token, uint256 amount) internal nonReentrant {
    userBalances[msg.sender][token] -= amount;
    IERC20(token).transfer(msg.sender, amount);
}`,
			AdditionalRecommendations: []string{
				"Add comprehensive test cases for reentrancy scenarios",
				"Consider using formal verification tools",
				"Implement circuit breakers for emergency situations",
				"Add monitoring for unusual transaction patterns",
			},
		},
		monitor: monitorSpec{
			name:        "ReentrancyMonitor",
			description: "Monitors contracts for potential reentrancy attacks in real time",
			features: []string{
				"Real-time transaction monitoring",
				"Pattern recognition for reentrancy attempts",
				"Alerting system for suspicious activities",
				"Integration with popular block explorers",
			},
		},
	},
	{
		key:            "flash-loan",
		vulnerability:  "Flash Loan Price Manipulation",
		keywords:       []string{"flash loan", "flashloan", "price manipulation", "arbitrage"},
		components:     []string{"PriceOracle.sol", "Swap.sol"},
		severity:       "High",
		exploitability: "Medium",
		technicalDetails: `Collateral is valued with the spot reserves of a single AMM pool. A flash loan can move
the reserves inside one transaction, inflate the collateral value and borrow against it before the
price reverts.`,
		impact: "Under-collateralised loans and loss of pooled liquidity.",
		solution: Solution{
			Title:    "Flash Loan Manipulation Mitigation",
			Approach: "Price assets with time-weighted or multi-source oracles and bound per-block price movement",
			Implementation: `function collateralValue(address asset, uint256 amount) public view returns (uint256) {
    uint256 twap = oracle.consult(asset, TWAP_WINDOW);
    uint256 spot = pair.spotPrice(asset);
    require(deviation(twap, spot) <= MAX_DEVIATION_BPS, "price deviation too large");
    return amount * twap / 1e18;
}`,
			AdditionalRecommendations: []string{
				"Use a TWAP window long enough to make manipulation uneconomic",
				"Cross-check prices with an independent oracle network",
				"Cap borrowing per block",
			},
		},
		monitor: monitorSpec{
			name:        "FlashLoanWatcher",
			description: "Flags transactions that borrow a flash loan and touch price-sensitive contracts",
			features: []string{
				"Flash loan event decoding",
				"Pool reserve deviation tracking",
				"Alerting on oracle divergence",
			},
		},
	},
	{
		key:            "oracle",
		vulnerability:  "Oracle Manipulation",
		keywords:       []string{"oracle", "price feed", "twap", "chainlink"},
		components:     []string{"Oracle.sol"},
		severity:       "High",
		exploitability: "Medium",
		technicalDetails: `The protocol trusts a single price source without staleness or deviation checks, so a stale
or manipulated answer is accepted as the current price.`,
		impact: "Incorrect liquidations and mispriced trades.",
		solution: Solution{
			Title:    "Oracle Hardening",
			Approach: "Validate freshness and bounds of every oracle answer and fall back to a secondary feed",
			Implementation: `(, int256 answer, , uint256 updatedAt, ) = feed.latestRoundData();
require(answer > 0, "invalid price");
require(block.timestamp - updatedAt <= MAX_STALENESS, "stale price");`,
			AdditionalRecommendations: []string{
				"Pause markets when feeds stop updating",
				"Monitor deviation between primary and secondary feeds",
			},
		},
		monitor: monitorSpec{
			name:        "OracleSentinel",
			description: "Tracks oracle freshness and deviation across feeds",
			features: []string{
				"Staleness alerts",
				"Cross-feed deviation checks",
			},
		},
	},
	{
		key:            "access-control",
		vulnerability:  "Broken Access Control",
		keywords:       []string{"access control", "onlyowner", "owner", "privilege", "tx.origin", "selfdestruct", "admin"},
		components:     []string{"Ownable.sol", "Treasury.sol"},
		severity:       "Critical",
		exploitability: "High",
		technicalDetails: `Privileged functions are reachable without a role check, or authorise the caller with
tx.origin, allowing a phishing contract to act on behalf of the owner.`,
		impact: "Unauthorised upgrades, fund transfers or contract destruction.",
		solution: Solution{
			Title:    "Access Control Hardening",
			Approach: "Guard every privileged function with explicit roles and authorise with msg.sender",
			Implementation: `bytes32 public constant OPERATOR_ROLE = keccak256("OPERATOR_ROLE");

function sweep(address to) external onlyRole(OPERATOR_ROLE) {
    payable(to).transfer(address(this).balance);
}`,
			AdditionalRecommendations: []string{
				"Move ownership to a multisig with a timelock",
				"Remove selfdestruct from production contracts",
				"Emit events for every role change",
			},
		},
		monitor: monitorSpec{
			name:        "RoleAuditor",
			description: "Watches role grants and privileged calls",
			features: []string{
				"Role change tracking",
				"Privileged call alerts",
			},
		},
	},
}

var genericProfile = profile{
	key:              "general",
	vulnerability:    "General Smart Contract Risk",
	severity:         "Medium",
	exploitability:   "Unknown",
	technicalDetails: "No specific vulnerability class was identified from the task description.",
	impact:           "Depends on the affected component; a manual review is required.",
	solution: Solution{
		Title:          "Security Review Plan",
		Approach:       "Run static analysis and fuzzing, then review findings manually",
		Implementation: "slither . --exclude-dependencies\nechidna-test . --config echidna.yaml",
		AdditionalRecommendations: []string{
			"Add invariant tests for core accounting",
			"Schedule an external audit before deployment",
		},
	},
	monitor: monitorSpec{
		name:        "ContractWatch",
		description: "Generic transaction monitor for deployed contracts",
		features: []string{
			"Real-time transaction monitoring",
			"Alerting system for suspicious activities",
		},
	},
}

// detectProfile 根据文本关键字选择漏洞画像，未命中时返回通用画像。
func detectProfile(text string) profile {
	lower := strings.ToLower(text)
	for _, p := range profiles {
		for _, keyword := range p.keywords {
			if strings.Contains(lower, keyword) {
				return p
			}
		}
	}
	return genericProfile
}

func profileByKey(key string) (profile, bool) {
	for _, p := range profiles {
		if p.key == key {
			return p, true
		}
	}
	return profile{}, false
}
