// Package technical содержит чистые функции технических индикаторов.
package technical

import (
	"math"

	"github.com/markcheno/go-talib"
)

const (
	// RSIPeriod стандартный период RSI
	RSIPeriod = 14

	// WhaleMinSamples минимальное окно объемов для поиска кита. Настраиваемая константа.
	WhaleMinSamples = 10

	// WhaleMultiplier во сколько раз последний объем должен превышать среднее предыдущих. Настраиваемая константа.
	WhaleMultiplier = 2.5
)

// RSI рассчитывает индекс относительной силы по Уайлдеру и возвращает значение 0..100.
// При нехватке данных (меньше period+1 цен) возвращает нейтральные 50.
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return 50
	}

	// Начальные средние по первым period изменениям
	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// Сглаживание Уайлдера для остальных изменений
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Volatility возвращает стандартное отклонение генеральной совокупности (делитель n).
// Пустое окно дает 0.
func Volatility(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}

	// Сдвиг на первый элемент: постоянное окно дает ровно 0 без ошибок округления
	shift := window[0]
	var sum float64
	for _, v := range window {
		sum += v - shift
	}
	mean := sum / float64(len(window))

	var sq float64
	for _, v := range window {
		d := v - shift - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(window)))
}

// WhaleActivity сообщает об аномальном объеме: последний объем больше
// WhaleMultiplier средних всех предыдущих объемов окна.
func WhaleActivity(volumes []float64) bool {
	if len(volumes) < WhaleMinSamples {
		return false
	}

	prior := volumes[:len(volumes)-1]
	var sum float64
	for _, v := range prior {
		sum += v
	}
	mean := sum / float64(len(prior))

	return volumes[len(volumes)-1] > mean*WhaleMultiplier
}

// SMA возвращает последнее значение простой скользящей средней.
// Используется только для отображения, в счет не входит.
func SMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if period < 2 || len(closes) < period {
		return closes[len(closes)-1]
	}
	sma := talib.Sma(closes, period)
	return sma[len(sma)-1]
}
