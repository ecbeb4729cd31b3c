package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/balance"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/config"
)

// verifyCommitted re-reads what a unit of work touched and checks the ledger
// invariants on committed state. A violation is reported and returned, never
// repaired. Read failures only log: the write has already committed.
func (s *Service) verifyCommitted(ctx context.Context, funcName string, accountID string, jobID string, itemIDs []string) error {
	entry := s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"funcName":   funcName,
		"account_id": accountID,
		"job_id":     jobID,
	})

	job, err := s.ledger.GetJob(ctx, accountID, jobID)
	if err != nil {
		entry.WithError(err).Warn("post-commit verification skipped")
		return nil
	}
	if err := balance.Check(job); err != nil {
		config.LogAlert(s.logger, moduleName, funcName, "post-commit verification", map[string]any{
			"account_id": accountID,
			"job_id":     jobID,
		}, err)
		return err
	}

	if len(itemIDs) == 0 {
		return nil
	}
	items, err := s.ledger.GetInventoryItems(ctx, accountID, itemIDs)
	if err != nil {
		entry.WithError(err).Warn("post-commit stock verification skipped")
		return nil
	}
	for _, item := range items {
		if err := balance.CheckStock(item); err != nil {
			config.LogAlert(s.logger, moduleName, funcName, "post-commit verification", map[string]any{
				"account_id": accountID,
				"item_id":    item.ID,
			}, err)
			return err
		}
	}
	return nil
}
