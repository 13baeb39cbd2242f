package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QuotationExpiryJobName is the scheduler name of the quotation expiry sweep
const QuotationExpiryJobName = "quotation_expiry"

// QuotationExpirer rejects pending quotations past their validity and
// returns how many it expired
type QuotationExpirer interface {
	ExpireQuotations(ctx context.Context) (int, error)
}

// QuotationExpiryJob sweeps expired quotations so jobs waiting on them
// reopen for new quotes even when nobody answers
type QuotationExpiryJob struct {
	expirer QuotationExpirer
	logger  *zap.Logger
	timeout time.Duration
}

func NewQuotationExpiryJob(expirer QuotationExpirer, logger *zap.Logger, timeout time.Duration) *QuotationExpiryJob {
	return &QuotationExpiryJob{
		expirer: expirer,
		logger:  logger,
		timeout: timeout,
	}
}

// Run executes one sweep. It is called by the scheduler and on startup.
func (j *QuotationExpiryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	expired, err := j.expirer.ExpireQuotations(ctx)
	if err != nil {
		j.logger.Error("quotation expiry sweep failed",
			zap.Int("expired", expired),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("quotation expiry sweep completed",
		zap.Int("expired", expired),
		zap.Duration("duration", time.Since(start)))
}
