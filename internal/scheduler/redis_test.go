package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueScore_NeverDueBeforeFireAt(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Разные позиции fireAt внутри миллисекунды, включая точную границу
	fireAts := []time.Time{
		base,
		base.Add(1 * time.Microsecond),
		base.Add(700 * time.Microsecond),
		base.Add(999 * time.Microsecond),
	}

	for _, fireAt := range fireAts {
		score := queueScore(fireAt)

		// Момент, когда элемент впервые становится выбираемым poller-ом
		// (score <= nowMillis), строго позже fireAt - ранней доставки,
		// которую engine превратил бы в no-op, не бывает
		firstDue := time.UnixMilli(score)
		require.True(t, firstDue.After(fireAt),
			"score %d is due at %s, not after fireAt %s", score, firstDue, fireAt)

		// Поздняя доставка ограничена одной миллисекундой сверх fireAt
		require.LessOrEqual(t, firstDue.Sub(fireAt), time.Millisecond)
	}
}

func TestQueueScore_DueOncePastFireAt(t *testing.T) {
	fireAt := time.Date(2025, 6, 1, 12, 0, 0, int(700*time.Microsecond), time.UTC)
	score := queueScore(fireAt)

	// До истечения окна poller элемент не видит
	beforeDue := fireAt.Add(200 * time.Microsecond)
	require.Greater(t, score, beforeDue.UnixMilli())

	// Через миллисекунду после fireAt элемент уже выбираем
	afterDue := fireAt.Add(time.Millisecond)
	require.LessOrEqual(t, score, afterDue.UnixMilli())
}
