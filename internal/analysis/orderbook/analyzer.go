package orderbook

import (
	"math"

	"github.com/skalibog/quantbot/pkg/models"
)

// Summary сводка по снимку стакана для отображения
type Summary struct {
	BestBid float64
	BestAsk float64
	Mid     float64
	// Spread относительный спред, доля от средней цены
	Spread float64
	// Imbalance преобладание покупателей (+) или продавцов (-), от -100 до 100
	Imbalance float64
	// Depth взвешенный перевес объема у середины, от -100 до 100
	Depth float64
}

// Analyzer анализатор стакана заявок
type Analyzer struct {
	imbalanceThreshold float64
}

// NewAnalyzer создает анализатор. Дисбаланс по модулю ниже порога считается нулевым.
func NewAnalyzer(imbalanceThreshold float64) *Analyzer {
	return &Analyzer{imbalanceThreshold: math.Abs(imbalanceThreshold)}
}

// Summarize сводит снимок стакана. Обе стороны ожидаются в порядке биржи:
// первым идет уровень, ближайший к середине. Пустая сторона дает нулевую сводку.
func (a *Analyzer) Summarize(snap models.DepthSnapshot) Summary {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return Summary{}
	}

	bid, ask := snap.Bids[0].Price, snap.Asks[0].Price
	mid := (bid + ask) / 2
	s := Summary{BestBid: bid, BestAsk: ask, Mid: mid}
	if mid > 0 {
		s.Spread = (ask - bid) / mid
	}
	s.Imbalance = a.calculateImbalance(snap.Bids, snap.Asks)
	s.Depth = calculateDepth(snap.Bids, snap.Asks, mid)
	return s
}

// calculateImbalance рассчитывает дисбаланс между спросом и предложением
func (a *Analyzer) calculateImbalance(bids, asks []models.Level) float64 {
	var totalBidVolume, totalAskVolume float64
	for _, bid := range bids {
		totalBidVolume += bid.Size
	}
	for _, ask := range asks {
		totalAskVolume += ask.Size
	}

	totalVolume := totalBidVolume + totalAskVolume
	if totalVolume == 0 {
		return 0
	}

	// Нормализуем к диапазону -100..100
	imbalance := (totalBidVolume - totalAskVolume) / totalVolume * 100
	if math.Abs(imbalance) < a.imbalanceThreshold {
		return 0
	}
	return imbalance
}

// depthLevels полосы глубины в долях от средней цены и их веса: близкие весят больше
var (
	depthLevels  = []float64{0.005, 0.01, 0.02, 0.05}
	depthWeights = []float64{0.4, 0.3, 0.2, 0.1}
)

// calculateDepth сравнивает объемы покупки и продажи в полосах вокруг середины
func calculateDepth(bids, asks []models.Level, mid float64) float64 {
	if mid <= 0 {
		return 0
	}

	bidVolumes := make([]float64, len(depthLevels))
	askVolumes := make([]float64, len(depthLevels))

	for _, bid := range bids {
		deviation := 1 - bid.Price/mid
		for i, level := range depthLevels {
			if deviation <= level {
				bidVolumes[i] += bid.Size
			}
		}
	}
	for _, ask := range asks {
		deviation := ask.Price/mid - 1
		for i, level := range depthLevels {
			if deviation <= level {
				askVolumes[i] += ask.Size
			}
		}
	}

	var weighted float64
	for i := range depthLevels {
		total := bidVolumes[i] + askVolumes[i]
		if total == 0 {
			continue
		}
		weighted += (bidVolumes[i] - askVolumes[i]) / total * depthWeights[i]
	}
	return weighted * 100
}
