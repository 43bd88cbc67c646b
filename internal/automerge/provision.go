package automerge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

// ProvisionStats summarizes a label provisioning run.
type ProvisionStats struct {
	StartTime    time.Time
	EndTime      time.Time
	Repositories uint
	Created      uint
	Existing     uint
	Failures     uint
}

func (s *ProvisionStats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("provisioning_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("label_provisioning.repositories", s.Repositories),
		zap.Uint("label_provisioning.created", s.Created),
		zap.Uint("label_provisioning.existing", s.Existing),
		zap.Uint("label_provisioning.failures", s.Failures),
	}
}

// Provisioner creates the labels of the policy in repositories.
type Provisioner struct {
	policy  *LabelPolicy
	retryer Retryer
	logger  *zap.Logger
}

func NewProvisioner(policy *LabelPolicy, retryer Retryer) *Provisioner {
	return &Provisioner{
		policy:  policy,
		retryer: retryer,
		logger:  zap.L().Named(loggerName).Named("provisioner"),
	}
}

// Provision creates all labels of the policy in every repository.
// Labels that already exist are not modified. Operations that fail with a
// temporary error are retried. Other failures are logged and provisioning
// continues with the next label. When ctx is done, the remaining
// repositories are skipped.
func (p *Provisioner) Provision(ctx context.Context, clt GithubClient, repos []Repository) *ProvisionStats {
	stats := ProvisionStats{StartTime: time.Now()}

	for i, repo := range repos {
		if ctx.Err() != nil {
			p.logger.Warn(
				"label provisioning aborted, repositories were not provisioned",
				logEventProvisioningAborted,
				zap.Int("remaining_repositories", len(repos)-i),
				zap.Error(ctx.Err()),
			)

			break
		}

		stats.Repositories++

		for _, rule := range p.policy.Rules() {
			logF := []zap.Field{
				logfields.RepositoryOwner(repo.Owner),
				logfields.Repository(repo.Name),
				logfields.Label(rule.Label),
			}

			var created bool
			err := p.retryer.Run(ctx, func(ctx context.Context) error {
				var err error
				created, err = clt.CreateLabel(ctx, repo.Owner, repo.Name, rule.Label, rule.Color, rule.Description)
				return err
			}, logF)
			if err != nil {
				stats.Failures++
				p.logger.Error(
					"creating label failed",
					append(logF, logEventCreatingLabelFailed, zap.Error(err))...,
				)

				continue
			}

			if created {
				stats.Created++
				p.logger.Info("label created", append(logF, logEventLabelCreated)...)
				continue
			}

			stats.Existing++
			p.logger.Debug("label already exists", append(logF, logEventLabelExists)...)
		}
	}

	stats.EndTime = time.Now()

	p.logger.Info("label provisioning finished", stats.LogFields()...)

	return &stats
}
