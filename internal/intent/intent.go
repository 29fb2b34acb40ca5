// Package intent classifies normalized customer text with keyword and
// pattern batteries. Every function is pure and safe for concurrent use.
package intent

// IsGreeting reports common greetings (hola, buenos días, hey, hi...).
func IsGreeting(text string) bool { return greetingBattery.match(text) }

// WantsCatalog reports an explicit request for the catalog or product list.
func WantsCatalog(text string) bool { return catalogBattery.match(text) }

// AcceptsCatalog reports an affirmative reply to a catalog offer, including
// the bare "1" of the catalog menu option.
func AcceptsCatalog(text string) bool {
	if Fold(text) == "1" {
		return true
	}
	return acceptBattery.match(text)
}

// WantsPurchase reports price, availability or buying intent.
func WantsPurchase(text string) bool { return purchaseBattery.match(text) }

// WantsNewSearch reports a request to search for something else or go back.
func WantsNewSearch(text string) bool { return newSearchBattery.match(text) }

// WantsMenu reports menu or help requests.
func WantsMenu(text string) bool { return menuBattery.match(text) }

// WantsMoreInfo reports a request for more detail about the current product.
func WantsMoreInfo(text string) bool { return moreInfoBattery.match(text) }

// IsOnTopic is the guardrail run before free-form generation: true when the
// text mentions products, buying, delivery, service or business vocabulary.
func IsOnTopic(text string) bool { return onTopicBattery.match(text) }
