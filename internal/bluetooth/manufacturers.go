package bluetooth

// LookupManufacturer returns a short vendor name for a Bluetooth SIG company
// ID found in advertisement manufacturer data. Only radio vendors that show
// up in lock hardware are listed.
// See: https://www.bluetooth.com/specifications/assigned-numbers/
func LookupManufacturer(companyID uint16) string {
	if name, ok := companyNames[companyID]; ok {
		return name
	}
	return ""
}

var companyNames = map[uint16]string{
	0x0059: "Nordic",
	0x015D: "Espressif",
	0x000D: "Texas Inst.",
	0x000A: "Qualcomm",
	0x000F: "Broadcom",
	0x0822: "Tuya",
	0x0958: "IKEA",
	0x048F: "Wyze",
	0x09A7: "Ring",
	0x004C: "Apple",
	0x0075: "Samsung",
	0x00E0: "Google",
}

// fallbackName labels an unnamed advertiser by vendor and address suffix,
// e.g. "Nordic EE:FF".
func fallbackName(address string, companyIDs []uint16) string {
	for _, id := range companyIDs {
		if name := LookupManufacturer(id); name != "" {
			if len(address) >= 5 {
				return name + " " + address[len(address)-5:]
			}
			return name
		}
	}
	return ""
}
