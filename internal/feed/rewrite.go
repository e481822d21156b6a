package feed

import "strings"

// Paywalled or proxied domains get their article and website URLs rewritten
// so links open through the proxy that actually grants access.
var (
	linkRewrites = [][2]string{
		{"www.mediapart.fr", "www-mediapart-fr.bnf.idm.oclc.org"},
		{"www.arretsurimages.net", "www-arretsurimages-net.bnf.idm.oclc.org"},
	}

	websiteRewrites = [][2]string{
		{"zdnet.fr", "https://www.zdnet.fr"},
		{"lemonde.fr", "https://www.lemonde.fr/autologin"},
		{"mediapart.fr", "https://bnf.idm.oclc.org/login?url=http://www.mediapart.fr/licence"},
		{"arretsurimages.net", "https://bnf.idm.oclc.org/login?url=http://www.arretsurimages.net/autologin.php"},
	}
)

func rewriteLink(rawURL string) string {
	if rawURL == "" {
		return "#"
	}

	for _, mapping := range linkRewrites {
		if strings.Contains(rawURL, mapping[0]) {
			return strings.Replace(rawURL, mapping[0], mapping[1], 1)
		}
	}

	return rawURL
}

func rewriteWebsiteURL(rawURL string) string {
	if rawURL == "" {
		return "#"
	}

	for _, mapping := range websiteRewrites {
		if strings.Contains(rawURL, mapping[0]) {
			return mapping[1]
		}
	}

	return rawURL
}
