package extrinsic

import (
	"fmt"
	"strings"
)

// ProxyType restricts which calls a proxy may dispatch.
type ProxyType uint8

// Proxy types of the Polkadot runtime. Index 4 is unused.
const (
	ProxyAny               ProxyType = 0
	ProxyNonTransfer       ProxyType = 1
	ProxyGovernance        ProxyType = 2
	ProxyStaking           ProxyType = 3
	ProxyIdentityJudgement ProxyType = 5
	ProxyCancelProxy       ProxyType = 6
)

var proxyTypeNames = map[ProxyType]string{
	ProxyAny:               "Any",
	ProxyNonTransfer:       "NonTransfer",
	ProxyGovernance:        "Governance",
	ProxyStaking:           "Staking",
	ProxyIdentityJudgement: "IdentityJudgement",
	ProxyCancelProxy:       "CancelProxy",
}

func (p ProxyType) String() string {
	if s, ok := proxyTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("ProxyType(%d)", uint8(p))
}

// ParseProxyType parses a proxy type name, case-insensitively.
func ParseProxyType(s string) (ProxyType, error) {
	for p, name := range proxyTypeNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown proxy type %q", s)
}

func validProxyType(b byte) bool {
	_, ok := proxyTypeNames[ProxyType(b)]
	return ok
}
