package report

// indiaStates maps ISO 3166-2:IN style state codes to the names the
// tax filing expects. Unknown codes pass through unchanged.
var indiaStates = map[string]string{
	"AP": "Andhra Pradesh",
	"AR": "Arunachal Pradesh",
	"AS": "Assam",
	"BR": "Bihar",
	"CT": "Chhattisgarh",
	"GA": "Goa",
	"GJ": "Gujarat",
	"HR": "Haryana",
	"HP": "Himachal Pradesh",
	"JH": "Jharkhand",
	"KA": "Karnataka",
	"KL": "Kerala",
	"MP": "Madhya Pradesh",
	"MH": "Maharashtra",
	"MN": "Manipur",
	"ML": "Meghalaya",
	"MZ": "Mizoram",
	"NL": "Nagaland",
	"OR": "Odisha",
	"PB": "Punjab",
	"RJ": "Rajasthan",
	"SK": "Sikkim",
	"TN": "Tamil Nadu",
	"TS": "Telangana",
	"TR": "Tripura",
	"UK": "Uttarakhand",
	"UP": "Uttar Pradesh",
	"WB": "West Bengal",
	"AN": "Andaman and Nicobar Islands",
	"CH": "Chandigarh",
	"DN": "Dadra and Nagar Haveli and Daman and Diu",
	"DL": "Delhi",
	"JK": "Jammu and Kashmir",
	"LA": "Ladakh",
	"LD": "Lakshadweep",
	"PY": "Puducherry",
}

func stateName(code string) string {
	if name, ok := indiaStates[code]; ok {
		return name
	}
	return code
}
