package metadata

// DefaultSignedExtensions are the signed extensions of a 2020-era
// Polkadot runtime, in order.
var DefaultSignedExtensions = []string{
	"CheckSpecVersion",
	"CheckTxVersion",
	"CheckGenesis",
	"CheckMortality",
	"CheckNonce",
	"CheckWeight",
	"ChargeTransactionPayment",
}

func args(pairs ...string) []Arg {
	out := make([]Arg, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Arg{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

func calls(cs ...Call) []Call {
	for i := range cs {
		cs[i].Index = uint8(i)
	}
	return cs
}

func events(names ...string) []Event {
	out := make([]Event, len(names))
	for i, n := range names {
		out[i] = Event{Name: n, Index: uint8(i)}
	}
	return out
}

// DevPallets returns the pallet layout of a development runtime that carries
// the system, balances, staking, utility, proxy and multisig pallets at their
// Polkadot indices. Call argument lists match the layouts encoded by
// package extrinsic.
func DevPallets() []Pallet {
	return []Pallet{
		{
			Name:  "System",
			Index: 0,
			Calls: calls(
				Call{Name: "fill_block", Args: args("_ratio", "Perbill")},
				Call{Name: "remark", Args: args("_remark", "Vec<u8>")},
			),
			Events: events("ExtrinsicSuccess", "ExtrinsicFailed", "CodeUpdated", "NewAccount", "KilledAccount"),
		},
		{
			Name:  "Balances",
			Index: 5,
			Calls: calls(
				Call{Name: "transfer", Args: args("dest", "<T::Lookup as StaticLookup>::Source", "value", "Compact<T::Balance>")},
				Call{Name: "set_balance", Args: args("who", "<T::Lookup as StaticLookup>::Source", "new_free", "Compact<T::Balance>", "new_reserved", "Compact<T::Balance>")},
				Call{Name: "force_transfer", Args: args("source", "<T::Lookup as StaticLookup>::Source", "dest", "<T::Lookup as StaticLookup>::Source", "value", "Compact<T::Balance>")},
				Call{Name: "transfer_keep_alive", Args: args("dest", "<T::Lookup as StaticLookup>::Source", "value", "Compact<T::Balance>")},
			),
			Events: events("Endowed", "DustLost", "Transfer", "BalanceSet", "Deposit", "Reserved", "Unreserved", "ReserveRepatriated"),
		},
		{
			Name:  "Staking",
			Index: 7,
			Calls: calls(
				Call{Name: "bond", Args: args("controller", "<T::Lookup as StaticLookup>::Source", "value", "Compact<BalanceOf<T>>", "payee", "RewardDestination<T::AccountId>")},
				Call{Name: "bond_extra", Args: args("max_additional", "Compact<BalanceOf<T>>")},
				Call{Name: "unbond", Args: args("value", "Compact<BalanceOf<T>>")},
				Call{Name: "withdraw_unbonded", Args: args("num_slashing_spans", "u32")},
				Call{Name: "validate", Args: args("prefs", "ValidatorPrefs")},
				Call{Name: "nominate", Args: args("targets", "Vec<<T::Lookup as StaticLookup>::Source>")},
				Call{Name: "chill"},
			),
			Events: events("EraPayout", "Reward", "Slash", "OldSlashingReportDiscarded", "StakingElection", "SolutionStored", "Bonded", "Unbonded", "Withdrawn"),
		},
		{
			Name:  "Utility",
			Index: 26,
			Calls: calls(
				Call{Name: "batch", Args: args("calls", "Vec<<T as Trait>::Call>")},
				Call{Name: "as_derivative", Args: args("index", "u16", "call", "Box<<T as Trait>::Call>")},
				Call{Name: "batch_all", Args: args("calls", "Vec<<T as Trait>::Call>")},
			),
			Events: events("BatchInterrupted", "BatchCompleted"),
		},
		{
			Name:  "Proxy",
			Index: 29,
			Calls: calls(
				Call{Name: "proxy", Args: args("real", "T::AccountId", "force_proxy_type", "Option<T::ProxyType>", "call", "Box<<T as Trait>::Call>")},
				Call{Name: "add_proxy", Args: args("delegate", "T::AccountId", "proxy_type", "T::ProxyType", "delay", "T::BlockNumber")},
				Call{Name: "remove_proxy", Args: args("delegate", "T::AccountId", "proxy_type", "T::ProxyType", "delay", "T::BlockNumber")},
				Call{Name: "remove_proxies"},
				Call{Name: "anonymous", Args: args("proxy_type", "T::ProxyType", "delay", "T::BlockNumber", "index", "u16")},
				Call{Name: "kill_anonymous", Args: args("spawner", "T::AccountId", "proxy_type", "T::ProxyType", "index", "u16", "height", "Compact<T::BlockNumber>", "ext_index", "Compact<u32>")},
				Call{Name: "announce", Args: args("real", "T::AccountId", "call_hash", "CallHashOf<T>")},
				Call{Name: "remove_announcement", Args: args("real", "T::AccountId", "call_hash", "CallHashOf<T>")},
				Call{Name: "reject_announcement", Args: args("delegate", "T::AccountId", "call_hash", "CallHashOf<T>")},
				Call{Name: "proxy_announced", Args: args("delegate", "T::AccountId", "real", "T::AccountId", "force_proxy_type", "Option<T::ProxyType>", "call", "Box<<T as Trait>::Call>")},
			),
			Events: events("ProxyExecuted", "AnonymousCreated", "Announced"),
		},
		{
			Name:  "Multisig",
			Index: 30,
			Calls: calls(
				Call{Name: "as_multi_threshold_1", Args: args("other_signatories", "Vec<T::AccountId>", "call", "Box<<T as Trait>::Call>")},
				Call{Name: "as_multi", Args: args("threshold", "u16", "other_signatories", "Vec<T::AccountId>", "maybe_timepoint", "Option<Timepoint<T::BlockNumber>>", "call", "OpaqueCall", "store_call", "bool", "max_weight", "Weight")},
				Call{Name: "approve_as_multi", Args: args("threshold", "u16", "other_signatories", "Vec<T::AccountId>", "maybe_timepoint", "Option<Timepoint<T::BlockNumber>>", "call_hash", "[u8; 32]", "max_weight", "Weight")},
				Call{Name: "cancel_as_multi", Args: args("threshold", "u16", "other_signatories", "Vec<T::AccountId>", "timepoint", "Timepoint<T::BlockNumber>", "call_hash", "[u8; 32]")},
			),
			Events: events("NewMultisig", "MultisigApproval", "MultisigExecuted", "MultisigCancelled"),
		},
	}
}

// DevMetadata returns the V12 blob for DevPallets.
func DevMetadata() []byte {
	return Encode(V12, DevPallets(), DefaultSignedExtensions)
}
