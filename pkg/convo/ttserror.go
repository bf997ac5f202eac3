package convo

import "strings"

// SynthesisErrorClass buckets tts_error events so the caller can react
// differently to terms problems, throttling, exhausted quota, bad
// credentials, and tool misuse.
type SynthesisErrorClass string

const (
	SynthPolicy     SynthesisErrorClass = "policy"
	SynthRateLimit  SynthesisErrorClass = "rate_limit"
	SynthQuota      SynthesisErrorClass = "quota"
	SynthCredential SynthesisErrorClass = "credential"
	SynthToolMisuse SynthesisErrorClass = "tool_misuse"
	SynthGeneric    SynthesisErrorClass = "generic"
)

// Notice is a short user-facing description of the failure class.
func (c SynthesisErrorClass) Notice() string {
	switch c {
	case SynthPolicy:
		return "Voice output is unavailable until the provider's terms are accepted."
	case SynthRateLimit:
		return "The voice service is throttling requests. Text will continue."
	case SynthQuota:
		return "The voice service quota is exhausted. Text will continue."
	case SynthCredential:
		return "The voice service rejected its credentials."
	case SynthToolMisuse:
		return "The assistant called the voice tool incorrectly."
	default:
		return "Voice synthesis failed for this reply. Text will continue."
	}
}

// classRules maps lowercase substrings from provider error payloads to a
// class. First match wins, so more specific phrases come first.
var classRules = []struct {
	needle string
	class  SynthesisErrorClass
}{
	{"unaccepted", SynthPolicy},
	{"terms of", SynthPolicy},
	{"terms not accepted", SynthPolicy},
	{"acceptable use", SynthPolicy},
	{"policy", SynthPolicy},
	{"moderation", SynthPolicy},
	{"rate limit", SynthRateLimit},
	{"rate_limit", SynthRateLimit},
	{"too many requests", SynthRateLimit},
	{"429", SynthRateLimit},
	{"quota", SynthQuota},
	{"insufficient credit", SynthQuota},
	{"out of credits", SynthQuota},
	{"billing", SynthQuota},
	{"invalid api key", SynthCredential},
	{"invalid key", SynthCredential},
	{"api key", SynthCredential},
	{"unauthorized", SynthCredential},
	{"credential", SynthCredential},
	{"401", SynthCredential},
	{"403", SynthCredential},
	{"tool call", SynthToolMisuse},
	{"invalid tool", SynthToolMisuse},
	{"tool use", SynthToolMisuse},
}

// ClassifySynthesisError inspects a tts_error code and message and returns
// the failure class. Unknown shapes classify as SynthGeneric.
func ClassifySynthesisError(code, message string) SynthesisErrorClass {
	haystack := strings.ToLower(code + " " + message)
	for _, rule := range classRules {
		if strings.Contains(haystack, rule.needle) {
			return rule.class
		}
	}
	return SynthGeneric
}
