package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics метрики процесса клиента
type ProcessMetrics struct {
	StartTime time.Time
	proc      *process.Process
}

// ProcessStats снимок для /status
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
	NumGC      uint32  `json:"num_gc"`
}

// NewProcessMetrics создает экземпляр метрик для текущего процесса
func NewProcessMetrics() *ProcessMetrics {
	pm := &ProcessMetrics{StartTime: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		pm.proc = proc
	}
	return pm
}

// Uptime возвращает время работы в человекочитаемом виде
func (pm *ProcessMetrics) Uptime() string {
	uptime := time.Since(pm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// CPUPercent использование CPU процессом в процентах
func (pm *ProcessMetrics) CPUPercent() (float64, error) {
	if pm.proc != nil {
		if pct, err := pm.proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}
	// Если метрика процесса недоступна, отдаём системную без ожидания
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("cpu: нет данных")
	}
	return pcts[0], nil
}

// RSSMB резидентная память процесса в MB
func (pm *ProcessMetrics) RSSMB() (float64, error) {
	if pm.proc == nil {
		return 0, fmt.Errorf("process: недоступен")
	}
	mi, err := pm.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(mi.RSS) / 1024 / 1024, nil
}

// Snapshot собирает ProcessStats. Ошибки gopsutil дают нулевые значения.
func (pm *ProcessMetrics) Snapshot() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := ProcessStats{
		Uptime:     pm.Uptime(),
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
	}
	st.CPUPercent, _ = pm.CPUPercent()
	st.RSSMB, _ = pm.RSSMB()
	return st
}
