package allocation

import "taskline/internal/domain"

// Select returns the first want claims. Claims must already be ordered by
// the tracker's tie-break rule.
func Select(claims []domain.Claim, want int) []domain.Claim {
	if want <= 0 || len(claims) == 0 {
		return nil
	}
	if want > len(claims) {
		want = len(claims)
	}
	return append([]domain.Claim(nil), claims[:want]...)
}

// assign hands out contiguous task numbers from start in claim order.
func assign(winners []domain.Claim, start int) []domain.WinnerAssignment {
	out := make([]domain.WinnerAssignment, len(winners))
	for i, c := range winners {
		out[i] = domain.WinnerAssignment{TaskNumber: start + i, ParticipantID: c.ParticipantID}
	}
	return out
}
