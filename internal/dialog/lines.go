package dialog

import "fmt"

// Canonical user-visible lines. Every spoken sentence that is not assembled
// from live results lives here, verbatim, so handlers and tests agree on the
// exact wording.
const (
	// LineGreeting opens every call.
	LineGreeting = "Hello, you've reached Havenline. I can help you find domestic violence shelters, legal aid, and counseling services. How can I help you today?"

	// LineRefocus answers recognizably off-topic chatter.
	LineRefocus = "I'm here to help with domestic violence support, such as finding shelters, legal aid, or counseling. How can I help you with that today?"

	// LineEmergency answers emergency_help. It never waits on a search.
	LineEmergency = "If you are in immediate danger, please hang up and call 911 right now. When you are safe, I can help you find shelters, legal help, or counseling. The National Domestic Violence Hotline is also available at 1-800-799-7233."

	// LineSlow is the pre-built reply for a turn that misses its deadline.
	LineSlow = "I'm sorry, that's taking too long. Please try asking again."

	// LineTrouble covers an upstream failure with no usable fallback.
	LineTrouble = "I'm sorry, I'm having trouble right now. The National Domestic Violence Hotline is available at 1-800-799-7233. How else can I help you?"

	// LineAskCity asks for a search location when none is known.
	LineAskCity = "I can help with that. Which city or state should I search in?"

	// LineAskOtherCity asks for a location after the caller declined the
	// previous one.
	LineAskOtherCity = "Okay. Which city or state should I search in?"

	// LineReprompt nudges a silent caller.
	LineReprompt = "Are you still there? You can ask me to find shelters, legal aid, or counseling near you."

	// LineDidNotCatch answers an empty or unintelligible transcript.
	LineDidNotCatch = "I'm sorry, I didn't catch that. Could you say it again?"

	// LineConsentAsk opens the end-of-call consent branch.
	LineConsentAsk = "Before you go, would you like me to text you a summary of the resources we discussed? Please say yes or no."

	// LineConsentRepeat re-asks after an unclear consent answer.
	LineConsentRepeat = "I'm sorry, I didn't understand. Would you like me to text you a summary? Please say yes or no."

	// LineConsentYes closes a call after the caller accepted the text.
	LineConsentYes = "Great, I'll text you the details shortly. Take care and stay safe. Goodbye."

	// LineConsentNo closes a call after the caller declined the text.
	LineConsentNo = "No problem. Take care and stay safe. Goodbye."

	// LineGoodbye closes a call ended by repeated silence.
	LineGoodbye = "It sounds like now isn't a good time. Please call back whenever you need help. Take care."

	// LineSMSSent confirms a mid-call details text.
	LineSMSSent = "I've sent the details to your phone. How else can I help you today?"

	// LineSMSDeclined acknowledges a declined mid-call details text.
	LineSMSDeclined = "Okay, I won't text you. How else can I help you today?"

	// LineSMSFallback is texted when a call ends with consent granted but
	// nothing stored to send.
	LineSMSFallback = "Thank you for calling Havenline. If you need help, the National Domestic Violence Hotline is 1-800-799-7233, available 24/7."
)

// ConfirmPrevious asks whether to reuse the caller's previous search
// location.
func ConfirmPrevious(location string) string {
	return fmt.Sprintf("I found a previous search for %s. Search there again?", location)
}
