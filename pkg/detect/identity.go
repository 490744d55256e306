package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/walbarellos/Sentinela/pkg/common"
)

// CrossRegimeIdentity surfaces entities whose presence across years hinges
// entirely on a masked-document bridge. Those links are capped-confidence by
// construction, so an auditor should see them called out rather than have
// them pass as ordinary continuity.
type CrossRegimeIdentity struct{}

func (CrossRegimeIdentity) Kind() string { return KindCrossRegimeIdentity }

func (CrossRegimeIdentity) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	var out []common.Insight
	for i := range snap.Entities {
		e := snap.Entities[i]
		if e.Attributes["cross_regime_match"] != "true" {
			continue
		}
		years := splitYears(e.Attributes["years"])
		crossYears := splitYears(e.Attributes["cross_years"])
		if len(years) == 0 || len(crossYears) == 0 {
			continue
		}
		if overlap(years, crossYears) {
			// Some other year is anchored by an exact document; the
			// identity does not rest on the bridge alone.
			continue
		}

		out = append(out, common.Insight{
			Kind:       KindCrossRegimeIdentity,
			Severity:   common.SeverityMedio,
			Confidence: 75,
			Title:      fmt.Sprintf("Identidade entre regimes: %s", e.DisplayName),
			Description: fmt.Sprintf(
				"Presença em %s ligada a %s apenas por CPF mascarado compatível; sem documento integral em comum.",
				e.Attributes["cross_years"], e.Attributes["years"]),
			Pattern:   "masked-document bridge only",
			SampleN:   len(crossYears),
			Tags:      []string{"cross_regime_match"},
			EntityIDs: []string{e.ID},
		})
	}
	return out, nil
}

func splitYears(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func overlap(a, b []string) bool {
	set := map[string]bool{}
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
