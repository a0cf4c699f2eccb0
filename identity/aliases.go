package identity

import (
	"sort"
	"strings"
)

// symbolAliases maps ticker symbols to canonical entity names. The set
// is extensible; additions only ever merge identities that were
// previously split, never the reverse.
var symbolAliases = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"usdt":  "tether",
	"bnb":   "binance-coin",
	"sol":   "solana",
	"xrp":   "ripple",
	"usdc":  "usd-coin",
	"ada":   "cardano",
	"avax":  "avalanche",
	"doge":  "dogecoin",
	"dot":   "polkadot",
	"matic": "polygon",
	"shib":  "shiba-inu",
	"dai":   "dai",
	"trx":   "tron",
	"link":  "chainlink",
	"uni":   "uniswap",
	"atom":  "cosmos",
	"ltc":   "litecoin",
	"xlm":   "stellar",
	"etc":   "ethereum-classic",
	"bch":   "bitcoin-cash",
	"near":  "near-protocol",
	"algo":  "algorand",
	"vet":   "vechain",
	"icp":   "internet-computer",
	"hbar":  "hedera",
	"apt":   "aptos",
	"arb":   "arbitrum",
	"op":    "optimism",
	"fil":   "filecoin",
	"imx":   "immutable-x",
	"ldo":   "lido-dao",
	"crv":   "curve",
	"grt":   "the-graph",
	"aave":  "aave",
	"mkr":   "maker",
	"snx":   "synthetix",
	"rune":  "thorchain",
	"inj":   "injective",
	"ftm":   "fantom",
	"tia":   "celestia",
}

// variantToCanonical maps every known spelling of an entity to its
// canonical name: the symbol, the canonical name itself, and the name
// with separators spaced out or removed.
var variantToCanonical = buildVariants()

// variantsByLength holds the variant keys shortest-first so a partial
// title matches the closest variant deterministically.
var variantsByLength = sortVariants()

func buildVariants() map[string]string {
	variants := make(map[string]string, len(symbolAliases)*4)
	for symbol, name := range symbolAliases {
		variants[symbol] = name
		variants[name] = name
		variants[strings.ReplaceAll(name, "-", " ")] = name
		variants[strings.ReplaceAll(name, "-", "")] = name
	}
	return variants
}

func sortVariants() []string {
	keys := make([]string, 0, len(variantToCanonical))
	for key := range variantToCanonical {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// LookupAlias resolves a symbol or name variant to its canonical name.
func LookupAlias(value string) (string, bool) {
	canonical, ok := variantToCanonical[strings.ToLower(strings.TrimSpace(value))]
	return canonical, ok
}
