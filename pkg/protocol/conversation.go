package protocol

import "strings"

// ConversationID derives the identifier both participants compute for
// their conversation: the two user IDs sorted lexicographically and
// joined with an underscore. Either side gets the same ID regardless
// of who initiates.
func ConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return strings.Join([]string{userA, userB}, "_")
}
