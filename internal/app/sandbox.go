package app

import (
	"context"
	"database/sql"
	"fmt"

	"envline/internal/config"
	"envline/internal/db"
	"envline/internal/domain"
	"envline/internal/migrate"
	"envline/internal/sandbox"
)

// OpenSandbox opens and migrates the workspace database and, when the store is
// empty, loads the seed environments of cfg.
func OpenSandbox(ctx context.Context, workspace string, cfg *config.Config) (sandbox.Service, *sql.DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return sandbox.Service{}, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return sandbox.Service{}, nil, fmt.Errorf("migrate: %w", err)
	}
	svc := sandbox.New(conn, cfg.Sandbox.CipherKey)
	n, err := svc.Repo.CountEnvironments(ctx)
	if err != nil {
		conn.Close()
		return sandbox.Service{}, nil, err
	}
	if n == 0 && len(cfg.Seed.Environments) > 0 {
		if err := svc.Seed(ctx, SeedEnvironments(cfg.Seed)); err != nil {
			conn.Close()
			return sandbox.Service{}, nil, fmt.Errorf("seed sandbox: %w", err)
		}
	}
	return svc, conn, nil
}

func seedOrigin(repo string) domain.Origin {
	if repo == "" {
		return domain.InteractiveOrigin()
	}
	return domain.ConfigRepoOrigin(repo)
}

// SeedEnvironments converts seed config into environments. An environment is
// interactive unless it only has config repository parts.
func SeedEnvironments(seed config.Seed) []*domain.Environment {
	out := make([]*domain.Environment, 0, len(seed.Environments))
	for _, se := range seed.Environments {
		env := &domain.Environment{Name: se.Name, Variables: domain.NewEnvironmentVariables()}
		for _, r := range se.Repos {
			env.Origins = env.Origins.Add(domain.ConfigRepoOrigin(r))
		}
		for _, p := range se.Pipelines {
			env.AddPipelineIfAbsent(domain.PipelineMembership{Name: p.Name, Origin: seedOrigin(p.Repo)})
		}
		for _, a := range se.Agents {
			env.AddAgentIfAbsent(domain.AgentMembership{UUID: a.UUID, Hostname: a.Hostname, Origin: seedOrigin(a.Repo)})
		}
		for _, v := range se.Variables {
			origin := seedOrigin(v.Repo)
			env.Origins = env.Origins.Add(origin)
			env.Variables.Add(&domain.EnvironmentVariable{Name: v.Name, Value: v.Value, Secure: v.Secure, Origin: origin})
		}
		if len(env.Origins) == 0 || env.MemberOrigins().HasEditable() {
			env.Origins = dedupe(append(domain.Origins{domain.InteractiveOrigin()}, env.Origins...))
		}
		out = append(out, env)
	}
	return out
}

func dedupe(in domain.Origins) domain.Origins {
	var out domain.Origins
	for _, o := range in {
		out = out.Add(o)
	}
	return out
}
