package label

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,

	// pronouns and determiners
	"i": true, "me": true, "my": true, "mine": true, "myself": true,
	"we": true, "us": true, "our": true, "ours": true, "you": true,
	"your": true, "yours": true, "he": true, "him": true, "his": true,
	"she": true, "her": true, "hers": true, "it": true, "its": true,
	"they": true, "them": true, "their": true, "theirs": true, "itself": true,
	"there": true, "here": true, "some": true, "any": true, "all": true,
	"each": true, "every": true, "both": true, "few": true, "more": true,
	"most": true, "other": true, "such": true, "own": true, "same": true,

	// filler common in feedback
	"very": true, "too": true, "also": true, "just": true, "only": true,
	"really": true, "quite": true, "much": true, "many": true, "again": true,
	"still": true, "even": true, "ever": true, "always": true, "never": true,
	"after": true, "before": true, "during": true, "over": true, "under": true,
	"up": true, "down": true, "out": true, "off": true, "once": true,
	"because": true, "while": true, "until": true, "get": true, "got": true,
	"am": true, "im": true, "ive": true, "dont": true, "doesnt": true,
	"isnt": true, "wasnt": true, "cant": true, "wont": true, "didnt": true,
}
