package emergency

import "strings"

// Numbers holds the regional emergency dial plan for one country.
type Numbers struct {
	Primary string
	Medical string
	Fire    string
	Police  string
}

// regionalNumbers is keyed by ISO country code, resolved from the carrier
// or locale at dispatch time. DEFAULT covers every unmapped region: 112 is
// routed by GSM networks worldwide.
var regionalNumbers = map[string]Numbers{
	"US":      {Primary: "911", Medical: "911", Fire: "911", Police: "911"},
	"CA":      {Primary: "911", Medical: "911", Fire: "911", Police: "911"},
	"GB":      {Primary: "999", Medical: "999", Fire: "999", Police: "999"},
	"AU":      {Primary: "000", Medical: "000", Fire: "000", Police: "000"},
	"NZ":      {Primary: "111", Medical: "111", Fire: "111", Police: "111"},
	"DE":      {Primary: "112", Medical: "112", Fire: "112", Police: "110"},
	"FR":      {Primary: "112", Medical: "15", Fire: "18", Police: "17"},
	"ES":      {Primary: "112", Medical: "061", Fire: "080", Police: "091"},
	"IT":      {Primary: "112", Medical: "118", Fire: "115", Police: "113"},
	"IN":      {Primary: "112", Medical: "102", Fire: "101", Police: "100"},
	"JP":      {Primary: "119", Medical: "119", Fire: "119", Police: "110"},
	"CN":      {Primary: "120", Medical: "120", Fire: "119", Police: "110"},
	"BR":      {Primary: "192", Medical: "192", Fire: "193", Police: "190"},
	"DEFAULT": {Primary: "112", Medical: "112", Fire: "112", Police: "112"},
}

// LookupNumbers resolves the dial plan for a country code, falling back to
// the DEFAULT entry for unknown regions.
func LookupNumbers(countryCode string) Numbers {
	if n, ok := regionalNumbers[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return n
	}
	return regionalNumbers["DEFAULT"]
}
