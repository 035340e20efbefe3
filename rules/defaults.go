package rules

// DefaultSource identifies the built-in rule set.
const DefaultSource = "built-in defaults"

// Call-signature patterns come before the bare keyword so the more specific
// hit is the one kept when both land on the same line.
var defaultRules = []struct {
	Algorithm string
	Patterns  []string
}{
	{"MD5", []string{
		`createHash\s*\(\s*['"]md5['"]\s*\)`,
		`\bmd5\b`,
	}},
	{"SHA-1", []string{
		`createHash\s*\(\s*['"]sha1['"]\s*\)`,
		`\bsha1\b`,
	}},
	{"SHA-256", []string{
		`createHash\s*\(\s*['"]sha256['"]\s*\)`,
		`\bsha256\b`,
	}},
	{"AES", []string{
		`createCipher(iv)?\s*\(\s*['"]aes-[^'"\\)]+['"]\s*\)`,
		`createDecipher(iv)?\s*\(\s*['"]aes-[^'"\\)]+['"]\s*\)`,
		`\baes\b`,
	}},
	{"RSA", []string{
		`createSign\s*\(\s*['"]rsa-[^'"\\)]+['"]\s*\)`,
		`createVerify\s*\(\s*['"]rsa-[^'"\\)]+['"]\s*\)`,
		`\brsa\b`,
	}},
	{"Base64", []string{
		`fromCharCode\s*\(\s*parseInt\s*\(`,
		`\b(atob|btoa)\b`,
		`\bbase64\b`,
	}},
	{"DES", []string{
		`createCipher\s*\(\s*['"]des['"]\s*\)`,
		`\bdes\b`,
	}},
}

// Default returns a fresh copy of the built-in library.
func Default() *Library {
	lib := NewLibrary()
	for _, r := range defaultRules {
		lib.Set(r.Algorithm, r.Patterns)
	}
	return lib
}
