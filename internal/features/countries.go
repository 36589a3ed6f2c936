package features

// Country risk reference data. In production this would be refreshed from an
// external screening provider; the static table covers the monitored corridors.

var countryRiskScores = map[string]float64{
	// Low risk countries (0.0 - 0.2)
	"US": 0.1, "GB": 0.1, "DE": 0.1, "FR": 0.1, "CA": 0.1, "AU": 0.1, "JP": 0.1,
	"NL": 0.1, "SE": 0.1, "NO": 0.1, "DK": 0.1, "FI": 0.1, "SG": 0.15, "HK": 0.15,

	// Medium-low risk (0.2 - 0.4)
	"SA": 0.3, "AE": 0.25, "QA": 0.25, "KW": 0.3, "BH": 0.25, "OM": 0.3,
	"BR": 0.35, "MX": 0.3, "AR": 0.35, "CL": 0.25, "CO": 0.4, "PE": 0.35,
	"IN": 0.3, "TH": 0.3, "MY": 0.25, "ID": 0.35, "PH": 0.4, "VN": 0.35,

	// Medium-high risk (0.4 - 0.6)
	"CN": 0.45, "RU": 0.55, "TR": 0.45, "EG": 0.5, "ZA": 0.4, "NG": 0.55,
	"KE": 0.45, "GH": 0.5, "UG": 0.5, "TZ": 0.45, "BD": 0.5, "PK": 0.55,

	// High risk (0.6 - 0.8)
	"CH": 0.6, "LU": 0.6, "MC": 0.65, "LI": 0.6, "AD": 0.6,
	"KY": 0.75, "BM": 0.7, "BS": 0.7, "BZ": 0.7, "PA": 0.65, "CR": 0.6,
	"VG": 0.75, "AI": 0.7, "TC": 0.7, "GG": 0.65, "JE": 0.65, "IM": 0.65,

	// Very high risk (0.8 - 1.0)
	"AF": 0.95, "IR": 0.9, "KP": 0.95, "SY": 0.9, "IQ": 0.85, "YE": 0.85,
	"SO": 0.9, "LY": 0.85, "SD": 0.85, "MM": 0.8, "BY": 0.8, "VE": 0.8,
	"CU": 0.8, "ZW": 0.85, "ER": 0.85, "CF": 0.85, "TD": 0.8, "ML": 0.8,
}

// defaultCountryRisk applies to countries not in the table.
const defaultCountryRisk = 0.5

var sanctionsCountries = map[string]bool{
	"AF": true, "IR": true, "KP": true, "SY": true, "IQ": true, "YE": true,
	"SO": true, "LY": true, "SD": true, "MM": true, "BY": true, "VE": true,
	"CU": true,
}

var highRiskJurisdictions = map[string]bool{
	"KY": true, "BM": true, "BS": true, "BZ": true, "PA": true, "CR": true,
	"VG": true, "AI": true, "TC": true, "GG": true, "JE": true, "IM": true,
	"CH": true, "LU": true, "MC": true, "LI": true, "AD": true,
}

var taxHavens = map[string]bool{
	"KY": true, "BM": true, "BS": true, "BZ": true, "PA": true,
	"CH": true, "LU": true, "MC": true, "LI": true, "AD": true,
}

// CountryRisk returns the risk score for an ISO country code.
func CountryRisk(code string) float64 {
	if score, ok := countryRiskScores[code]; ok {
		return score
	}
	return defaultCountryRisk
}
