// Package retry decides what the node layer does after an NFSv4 operation
// fails: give up, send again, or repair client state first and then send
// again. Decisions come from a classification table keyed by nfsstat4 and
// are bounded by a maximum attempt count.
package retry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Action is what the caller should do with a failed compound.
type Action int

const (
	// Fail surfaces the error to the caller.
	Fail Action = iota
	// Retry resends the same compound after Decision.Wait.
	Retry
	// RecoverThenRetry runs Decision.Recovery and resends when it succeeds.
	RecoverThenRetry
)

func (a Action) String() string {
	switch a {
	case Fail:
		return "fail"
	case Retry:
		return "retry"
	case RecoverThenRetry:
		return "recover"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Recovery names the repair to run before a RecoverThenRetry resend.
type Recovery int

const (
	RecoverNone Recovery = iota
	// RecoverFileHandle re-resolves the node's handle from its recorded names.
	RecoverFileHandle
	// RecoverClientID re-establishes the client id with the server.
	RecoverClientID
	// RecoverOpenState renews the client id and reclaims the open state.
	RecoverOpenState
)

func (r Recovery) String() string {
	switch r {
	case RecoverNone:
		return "none"
	case RecoverFileHandle:
		return "file_handle"
	case RecoverClientID:
		return "client_id"
	case RecoverOpenState:
		return "open_state"
	}
	return fmt.Sprintf("recovery(%d)", int(r))
}

// Backoff selects how long a Retry waits.
type Backoff int

const (
	// BackoffExponential doubles DelayBase per attempt up to DelayMax.
	BackoffExponential Backoff = iota
	// BackoffGrace waits GraceDelay, a fraction of the server lease.
	BackoffGrace
	// BackoffNone resends immediately.
	BackoffNone
)

func (b Backoff) String() string {
	switch b {
	case BackoffExponential:
		return "exponential"
	case BackoffGrace:
		return "grace"
	case BackoffNone:
		return "none"
	}
	return fmt.Sprintf("backoff(%d)", int(b))
}

// Rule classifies one status.
type Rule struct {
	Action   Action
	Recovery Recovery
	Backoff  Backoff
	// Unbounded rules ignore MaxAttempts; only context cancellation stops
	// them. Used for blocking lock polling.
	Unbounded bool
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Action   Action
	Recovery Recovery
	Wait     time.Duration
}

// Config tunes a Policy.
type Config struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	DelayBase   time.Duration `mapstructure:"delay_base" yaml:"delay_base" validate:"gte=0"`
	DelayMax    time.Duration `mapstructure:"delay_max" yaml:"delay_max" validate:"gtefield=DelayBase"`
	GraceDelay  time.Duration `mapstructure:"grace_delay" yaml:"grace_delay" validate:"gte=0"`
}

// DefaultConfig returns the default retry tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		DelayBase:   10 * time.Millisecond,
		DelayMax:    time.Second,
		GraceDelay:  5 * time.Second,
	}
}

// Policy maps statuses to decisions. It is immutable once built and safe
// for concurrent use.
type Policy struct {
	cfg   Config
	rules map[uint32]Rule
}

// DefaultRules is the classification table used by NewPolicy.
func DefaultRules() map[uint32]Rule {
	delay := Rule{Action: Retry, Backoff: BackoffExponential}
	return map[uint32]Rule{
		types.NFS4ERR_DELAY:    delay,
		types.NFS4ERR_LOCKED:   delay,
		types.NFS4ERR_RESOURCE: delay,
		types.NFS4ERR_GRACE:    {Action: Retry, Backoff: BackoffGrace},

		// Only reached when a blocking lock asked to wait.
		types.NFS4ERR_DENIED: {Action: Retry, Backoff: BackoffExponential, Unbounded: true},

		types.NFS4ERR_FHEXPIRED: {Action: RecoverThenRetry, Recovery: RecoverFileHandle},
		types.NFS4ERR_BADHANDLE: {Action: RecoverThenRetry, Recovery: RecoverFileHandle},
		types.NFS4ERR_STALE:     {Action: RecoverThenRetry, Recovery: RecoverFileHandle},

		types.NFS4ERR_STALE_CLIENTID: {Action: RecoverThenRetry, Recovery: RecoverClientID},
		types.NFS4ERR_STALE_STATEID:  {Action: RecoverThenRetry, Recovery: RecoverOpenState},
		types.NFS4ERR_EXPIRED:        {Action: RecoverThenRetry, Recovery: RecoverOpenState},
		types.NFS4ERR_BAD_STATEID:    {Action: RecoverThenRetry, Recovery: RecoverOpenState},
		types.NFS4ERR_OLD_STATEID:    {Action: RecoverThenRetry, Recovery: RecoverOpenState},
		types.NFS4ERR_ADMIN_REVOKED:  {Action: RecoverThenRetry, Recovery: RecoverOpenState},
	}
}

// NewPolicy builds a policy from cfg and the default table. Zero fields in
// cfg take their defaults.
func NewPolicy(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DelayBase <= 0 {
		cfg.DelayBase = def.DelayBase
	}
	if cfg.DelayMax < cfg.DelayBase {
		cfg.DelayMax = max(def.DelayMax, cfg.DelayBase)
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = def.GraceDelay
	}
	return &Policy{cfg: cfg, rules: DefaultRules()}
}

// DefaultPolicy returns NewPolicy(DefaultConfig()).
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultConfig())
}

// WithRule returns a copy of p with status classified by rule.
func (p *Policy) WithRule(status uint32, rule Rule) *Policy {
	rules := make(map[uint32]Rule, len(p.rules)+1)
	for k, v := range p.rules {
		rules[k] = v
	}
	rules[status] = rule
	return &Policy{cfg: p.cfg, rules: rules}
}

// Config returns the tuning in effect.
func (p *Policy) Config() Config {
	return p.cfg
}

// Classify returns the rule for status. Unlisted statuses fail.
func (p *Policy) Classify(status uint32) Rule {
	if rule, ok := p.rules[status]; ok {
		return rule
	}
	return Rule{Action: Fail}
}

// Decide classifies status observed on the given zero-based attempt.
func (p *Policy) Decide(status uint32, attempt int) Decision {
	if status == types.NFS4_OK {
		return Decision{Action: Fail}
	}

	rule := p.Classify(status)
	if rule.Action == Fail {
		return Decision{Action: Fail}
	}
	if !rule.Unbounded && attempt+1 >= p.cfg.MaxAttempts {
		return Decision{Action: Fail}
	}

	d := Decision{Action: rule.Action, Recovery: rule.Recovery}
	if rule.Action == Retry {
		d.Wait = p.wait(rule.Backoff, attempt)
	}
	return d
}

func (p *Policy) wait(b Backoff, attempt int) time.Duration {
	switch b {
	case BackoffNone:
		return 0
	case BackoffGrace:
		return p.cfg.GraceDelay
	}
	d := p.cfg.DelayBase
	for i := 0; i < attempt && d < p.cfg.DelayMax; i++ {
		d *= 2
	}
	return min(d, p.cfg.DelayMax)
}

// Entry is one row of the classification table.
type Entry struct {
	Status uint32
	Rule   Rule
}

// Table lists the classification table ordered by status.
func (p *Policy) Table() []Entry {
	out := make([]Entry, 0, len(p.rules))
	for status, rule := range p.rules {
		out = append(out, Entry{Status: status, Rule: rule})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
