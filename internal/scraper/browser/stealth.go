package browser

import (
	"fmt"
	"math/rand"
)

// userAgents is the rotation used when no list is configured
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

const (
	Locale   = "fr-FR"
	Timezone = "Europe/Paris"

	AcceptLanguage = "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"
)

// PickUserAgent returns a random entry of candidates, or of the built-in
// list when candidates is empty
func PickUserAgent(candidates []string) string {
	if len(candidates) == 0 {
		candidates = userAgents
	}
	return candidates[rand.Intn(len(candidates))]
}

// windowPosition returns a random "x,y" offset in [0,100]
func windowPosition() string {
	return fmt.Sprintf("%d,%d", rand.Intn(101), rand.Intn(101))
}

// initScript runs before any page script on every new document
const initScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

	Object.defineProperty(navigator, 'plugins', {
		get: () => [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
			{ name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
		],
	});

	Object.defineProperty(navigator, 'languages', { get: () => ['fr-FR', 'fr', 'en-US', 'en'] });
	Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });
	Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });

	window.chrome = window.chrome || { runtime: {}, loadTimes: function() {}, csi: function() {} };

	if (window.navigator.permissions && window.navigator.permissions.query) {
		const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
		window.navigator.permissions.query = (parameters) => (
			parameters && parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);
	}

	Object.defineProperty(screen, 'availWidth', { get: () => 1920 });
	Object.defineProperty(screen, 'availHeight', { get: () => 1040 });
}`
