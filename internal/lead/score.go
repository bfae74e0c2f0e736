package lead

import (
	"strings"
	"unicode/utf8"
)

const (
	scoreDescription        = 10
	scoreName               = 10
	scoreEmail              = 10
	scorePhone              = 15
	scoreCoordinates        = 15
	scoreLocationDesc       = 5
	scoreCity               = 5
	scoreSightingDate       = 10
	scorePersonDescription  = 10
	scoreVehicleDescription = 5
	scorePerAttachment      = 5
	maxAttachmentScore      = 20
	scoreLongDescription    = 5
	longDescription         = 100
	veryLongDescription     = 250
	maxScore                = 100
)

// Score computes the 0-100 confidence for an incoming lead. Contact details
// only count for non-anonymous submissions.
func Score(in IncomingLead) int {
	score := 0
	has := func(s string) bool { return strings.TrimSpace(s) != "" }

	if has(in.Description) {
		score += scoreDescription
	}
	if !in.IsAnonymous {
		if has(in.Submitter.Name) {
			score += scoreName
		}
		if has(in.Submitter.Email) {
			score += scoreEmail
		}
		if has(in.Submitter.Phone) {
			score += scorePhone
		}
	}
	if in.Location.HasCoordinates() {
		score += scoreCoordinates
	}
	if has(in.Location.Description) {
		score += scoreLocationDesc
	}
	if has(in.Location.City) {
		score += scoreCity
	}
	if has(in.Sighting.Date) {
		score += scoreSightingDate
	}
	if has(in.Sighting.PersonDescription) {
		score += scorePersonDescription
	}
	if has(in.Sighting.VehicleDescription) {
		score += scoreVehicleDescription
	}
	score += min(len(in.Attachments)*scorePerAttachment, maxAttachmentScore)

	n := utf8.RuneCountInString(in.Description)
	if n > longDescription {
		score += scoreLongDescription
	}
	if n > veryLongDescription {
		score += scoreLongDescription
	}
	return min(score, maxScore)
}
