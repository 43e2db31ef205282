package classify

import "strings"

// Intent is the closed set of caller intents the router dispatches on.
type Intent string

const (
	// IntentFindShelter asks for a shelter or safe place to stay.
	IntentFindShelter Intent = "find_shelter"

	// IntentLegalServices asks for legal aid, protective orders, custody help.
	IntentLegalServices Intent = "legal_services"

	// IntentCounselingServices asks for counseling, therapy, support groups.
	IntentCounselingServices Intent = "counseling_services"

	// IntentEmergencyHelp signals immediate danger. The router answers with
	// the safety-priority line and never calls search for it.
	IntentEmergencyHelp Intent = "emergency_help"

	// IntentGeneralInformation asks a factual question about domestic
	// violence or support topics.
	IntentGeneralInformation Intent = "general_information"

	// IntentOtherResources asks for support services that do not fit the
	// more specific buckets (hotlines, financial assistance, ...).
	IntentOtherResources Intent = "other_resources"

	// IntentEndConversation is a goodbye.
	IntentEndConversation Intent = "end_conversation"

	// IntentOffTopic is recognizably unrelated chatter.
	IntentOffTopic Intent = "off_topic"

	// IntentConfirmLocation and IntentDeclineLocation are branch-only
	// intents: they are produced by the pending location-confirmation
	// branch, never by the pattern table.
	IntentConfirmLocation Intent = "confirm_location"
	IntentDeclineLocation Intent = "decline_location"
)

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentFindShelter, IntentLegalServices, IntentCounselingServices,
		IntentEmergencyHelp, IntentGeneralInformation, IntentOtherResources,
		IntentEndConversation, IntentOffTopic,
		IntentConfirmLocation, IntentDeclineLocation:
		return true
	}
	return false
}

// LocationSeeking reports whether i is an intent whose answers depend on a
// place: the router asks for location confirmation on these when the
// utterance itself names none.
func (i Intent) LocationSeeking() bool {
	switch i {
	case IntentFindShelter, IntentLegalServices, IntentCounselingServices,
		IntentOtherResources:
		return true
	}
	return false
}

// ParseIntent maps free text (typically a chat-model reply) onto the intent
// enum. It tolerates surrounding whitespace, quotes, and trailing punctuation.
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "\"'`.,! ")
	s = strings.ReplaceAll(s, " ", "_")
	in := Intent(s)
	if in.IsValid() {
		return in, true
	}
	return "", false
}
