// Package alerting evaluates threshold rules against the stored
// monitoring series and delivers notifications over SMTP.
package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"modelmon/config"
	"modelmon/monitoring"
	"modelmon/tsdb"
)

// Manager evaluates the configured alert rules on an interval.
type Manager struct {
	config    config.AlertsConfig
	connector tsdb.Connector
	logger    kitlog.Logger

	rules    []*rule
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

// rule is one parsed alert rule plus its firing state.
type rule struct {
	name      string
	table     monitoring.Table
	filter    string
	window    time.Duration
	threshold float64
	condition string
	severity  string

	active    bool
	lastFired time.Time
}

// event is one triggered alert.
type event struct {
	rule      *rule
	timestamp time.Time
	details   string
}

// NewManager creates an alerting manager from the configured rules.
func NewManager(cfg config.AlertsConfig, connector tsdb.Connector, logger kitlog.Logger) (*Manager, error) {
	m := &Manager{
		config:    cfg,
		connector: connector,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
	if err := m.parseRules(); err != nil {
		return nil, fmt.Errorf("failed to parse alert rules: %w", err)
	}
	return m, nil
}

// Start starts the rule evaluation loop. With no rules configured it
// is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if len(m.rules) > 0 {
		m.wg.Add(1)
		go m.checkAlerts()
	}

	m.running = true
	level.Info(m.logger).Log("msg", "alerting manager started", "rules", len(m.rules))
	return nil
}

// Stop stops the evaluation loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	close(m.stopChan)
	m.wg.Wait()
	m.running = false
	return nil
}

// Close closes the alerting manager.
func (m *Manager) Close() error {
	return m.Stop()
}

func (m *Manager) parseRules() error {
	m.rules = make([]*rule, 0, len(m.config.Rules))

	for _, rc := range m.config.Rules {
		window := 5 * time.Minute
		if rc.Window != "" {
			parsed, err := config.ParseDuration(rc.Window)
			if err != nil {
				return fmt.Errorf("invalid window for rule %s: %w", rc.Name, err)
			}
			window = parsed
		}

		table := monitoring.Table(rc.Table)
		if !table.Valid() {
			return fmt.Errorf("unknown table %q for rule %s", rc.Table, rc.Name)
		}
		switch rc.Condition {
		case "above", "below":
		default:
			return fmt.Errorf("unknown condition %q for rule %s", rc.Condition, rc.Name)
		}

		m.rules = append(m.rules, &rule{
			name:      rc.Name,
			table:     table,
			filter:    rc.Filter,
			window:    window,
			threshold: rc.Threshold,
			condition: rc.Condition,
			severity:  rc.Severity,
		})
	}

	return nil
}

func (m *Manager) checkAlerts() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evaluateRules()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) evaluateRules() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		triggered, details, err := m.evaluateRule(r)
		if err != nil {
			level.Warn(m.logger).Log("msg", "error evaluating rule", "rule", r.name, "err", err)
			continue
		}

		if !triggered {
			r.active = false
			continue
		}
		// Fire only on the inactive-to-active edge.
		if r.active {
			continue
		}
		r.active = true
		r.lastFired = time.Now()

		if err := m.sendAlert(&event{rule: r, timestamp: r.lastFired, details: details}); err != nil {
			level.Warn(m.logger).Log("msg", "error sending alert", "rule", r.name, "err", err)
		}
	}
}

// evaluateRule queries the rule's window and compares the latest value
// against the threshold.
func (m *Manager) evaluateRule(r *rule) (bool, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	end := time.Now().UTC()
	start := end.Add(-r.window)

	frame, err := m.connector.Records(ctx, r.table,
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano),
		[]string{"timestamp", "value"}, r.filter)
	if err != nil {
		return false, "", fmt.Errorf("error querying records: %w", err)
	}
	if frame.Len() == 0 {
		return false, "", nil
	}

	values, err := frame.Column("value")
	if err != nil {
		return false, "", err
	}
	latest, ok := values[len(values)-1].(float64)
	if !ok {
		return false, "", fmt.Errorf("non-numeric value column in table %s", r.table)
	}

	switch r.condition {
	case "above":
		if latest > r.threshold {
			return true, fmt.Sprintf("value %.4f is above threshold %.4f", latest, r.threshold), nil
		}
	case "below":
		if latest < r.threshold {
			return true, fmt.Sprintf("value %.4f is below threshold %.4f", latest, r.threshold), nil
		}
	}
	return false, "", nil
}

func (m *Manager) sendAlert(e *event) error {
	if !m.config.Email.Enabled {
		level.Info(m.logger).Log("msg", "alert triggered", "rule", e.rule.name, "severity", e.rule.severity, "details", e.details)
		return nil
	}

	subject := fmt.Sprintf("Alert: %s", e.rule.name)
	body := fmt.Sprintf("Alert %s (%s) triggered at %s.\r\nTable: %s\r\nDetails: %s\r\n",
		e.rule.name, e.rule.severity, e.timestamp.Format(time.RFC3339), e.rule.table, e.details)

	return m.sendEmail(subject, body)
}

func (m *Manager) sendEmail(subject, body string) error {
	from := m.config.Email.FromAddress
	to := m.config.Email.ToAddresses

	message := []byte(fmt.Sprintf("From: %s\r\n", from) +
		fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")) +
		fmt.Sprintf("Subject: %s\r\n", subject) +
		"\r\n" +
		body)

	auth := smtp.PlainAuth("", m.config.Email.Username, m.config.Email.Password, m.config.Email.SMTPServer)
	addr := fmt.Sprintf("%s:%d", m.config.Email.SMTPServer, m.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, from, to, message); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}

	level.Info(m.logger).Log("msg", "alert email sent", "subject", subject)
	return nil
}
