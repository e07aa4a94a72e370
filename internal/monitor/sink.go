package monitor

import "codeberg.org/mutker/sysmonitor/internal/logger"

// Sink receives every tick's result.
type Sink interface {
	Emit(res Result)
}

// LogSink writes each result as one log line: warning when anomalies fired,
// info otherwise.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(res Result) {
	if res.CounterReset {
		s.log.Debug().Msg("Cumulative counter went backwards, skipping its delta this tick")
	}

	if len(res.Anomalies) == 0 {
		s.log.Info().Msg(res.Message())
		return
	}

	kinds := make([]string, len(res.Anomalies))
	for i, a := range res.Anomalies {
		kinds[i] = string(a.Kind)
	}

	s.log.Warn().Strs("anomalies", kinds).Msg(res.Message())
}
