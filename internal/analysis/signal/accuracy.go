package signal

import "github.com/skalibog/quantbot/pkg/models"

// Accuracy считает скользящую точность прошлых решений относительно текущей цены.
// LONG угадан, если цена выросла с момента решения, SHORT - если упала. HOLD не учитывается.
func Accuracy(decisions []models.Decision, currentPrice float64) (hits, total int, ratio float64) {
	for _, d := range decisions {
		switch d.Decision {
		case models.Long:
			total++
			if currentPrice > d.Input.Price {
				hits++
			}
		case models.Short:
			total++
			if currentPrice < d.Input.Price {
				hits++
			}
		}
	}
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return hits, total, ratio
}
