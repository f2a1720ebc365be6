package registry

// builtin returns fresh copies of the static chain tables.
func builtin() map[string]map[uint32]string {
	return map[string]map[uint32]string{
		RelayPolkadot: {
			1:    "Polkadot",
			1000: "AssetHub",
			1001: "Collectives",
			1002: "BridgeHub",
			1004: "People",
			1005: "Coretime",
			2000: "Acala",
			2004: "Moonbeam",
			2006: "Astar",
			2008: "Crust",
			2013: "Litentry",
			2019: "Composable Finance",
			2025: "SORA",
			2026: "Nodle",
			2030: "Bifrost",
			2031: "Centrifuge",
			2032: "Interlay",
			2034: "Hydration",
			2035: "Phala Network",
			2037: "Unique Network",
			2040: "Polkadex",
			2043: "NeuroWeb",
			2046: "Darwinia",
			2048: "Bitgreen",
			2051: "Ajuna Network",
			2056: "Aventus",
			2086: "KILT Spiritnet",
			2091: "Frequency",
			2092: "Zeitgeist",
			2093: "Hashed Network",
			2094: "Pendulum",
			2101: "Subsocial",
			2104: "Manta",
			3333: "t3rn",
			3340: "InvArch",
			3344: "Polimec",
			3345: "Energy Web X",
			3346: "Continuum",
			3354: "Logion",
			3359: "Integritee Network",
			3369: "Mythos",
			3370: "Laos",
			3388: "Robonomics",
		},
		RelayKusama: {
			2:    "Kusama",
			1000: "AssetHub",
			1001: "Encointer",
			1002: "BridgeHub",
			1004: "People",
			1005: "Coretime",
			2000: "Karura",
			2001: "Bifrost",
			2004: "Khala",
			2007: "Shiden",
			2011: "SORA",
			2012: "Crust Shadow",
			2015: "Integritee",
			2023: "Moonriver",
			2048: "Robonomics",
			2084: "Calamari",
			2085: "Parallel Heiko",
			2087: "Picasso",
			2088: "Altair",
			2090: "Basilisk",
			2092: "Kintsugi BTC",
			2095: "QUARTZ by UNIQUE",
			2105: "Crab",
			2114: "Turing",
			2119: "Bajun",
			2120: "Shiden 2",
			2121: "Imbue",
			2124: "Amplitude",
			2125: "InvArch Tinkernet",
			2236: "ZERO",
			2239: "Acurast",
			2240: "Robonomics 2",
			2241: "Krest",
			3339: "Curio",
			3344: "Xode",
		},
		RelayWestend: {
			3:    "Westend",
			1000: "Assethub",
			1001: "Collectives",
			1002: "Bridgehub",
			1004: "People",
			1005: "Coretime",
			2022: "YAP2022",
		},
	}
}
