package retention

import "time"

type ErrorHandler func(err error)

type Config struct {
	// Enabled 控制 chat 会话期间是否在后台周期性清理。
	Enabled bool `mapstructure:"enabled"`
	// Interval 为清理周期。
	Interval time.Duration `mapstructure:"interval"`
	// AuditKeep / TurnsKeep 为两张表各自的保留时长。
	AuditKeep time.Duration `mapstructure:"audit_keep"`
	TurnsKeep time.Duration `mapstructure:"turns_keep"`
	// BatchRows 为单次删除的最大行数。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的休眠，降低对前台写入的影响。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
	// Workers 为并发清理的 worker 数量（每张表一个任务）。
	Workers int `mapstructure:"workers"`

	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Interval:  time.Hour,
		AuditKeep: 7 * 24 * time.Hour,
		TurnsKeep: 30 * 24 * time.Hour,
		BatchRows: 500,
		IdleSleep: 50 * time.Millisecond,
		Workers:   2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.AuditKeep <= 0 {
		c.AuditKeep = d.AuditKeep
	}
	if c.TurnsKeep <= 0 {
		c.TurnsKeep = d.TurnsKeep
	}
	if c.BatchRows <= 0 {
		c.BatchRows = d.BatchRows
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
