// Package postgres persists persona sections in Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"hookrelay/internal/receiver/model"
)

type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	if dsn == "" {
		return nil, errors.New("database connection string is empty")
	}

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Storage{pool: pool}
	if err := s.createTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS persona_section_1 (
			session_id TEXT PRIMARY KEY,
			broad_domain_expertise TEXT,
			broad_domain_expertise_quality TEXT,
			specific_niche_focus TEXT,
			specific_niche_focus_quality TEXT,
			ideal_client_definition TEXT,
			ideal_client_definition_quality TEXT,
			target_customer_problems TEXT,
			target_customer_problems_quality TEXT,
			signature_outcomes TEXT,
			signature_outcomes_quality TEXT,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create persona table: %w", err)
	}
	return nil
}

func (s *Storage) UpsertSection1(ctx context.Context, rec model.PersonaSection1) error {
	query := `
		INSERT INTO persona_section_1 (
			session_id,
			broad_domain_expertise, broad_domain_expertise_quality,
			specific_niche_focus, specific_niche_focus_quality,
			ideal_client_definition, ideal_client_definition_quality,
			target_customer_problems, target_customer_problems_quality,
			signature_outcomes, signature_outcomes_quality,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			broad_domain_expertise = EXCLUDED.broad_domain_expertise,
			broad_domain_expertise_quality = EXCLUDED.broad_domain_expertise_quality,
			specific_niche_focus = EXCLUDED.specific_niche_focus,
			specific_niche_focus_quality = EXCLUDED.specific_niche_focus_quality,
			ideal_client_definition = EXCLUDED.ideal_client_definition,
			ideal_client_definition_quality = EXCLUDED.ideal_client_definition_quality,
			target_customer_problems = EXCLUDED.target_customer_problems,
			target_customer_problems_quality = EXCLUDED.target_customer_problems_quality,
			signature_outcomes = EXCLUDED.signature_outcomes,
			signature_outcomes_quality = EXCLUDED.signature_outcomes_quality,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		rec.SessionID,
		rec.BroadDomainExpertise, rec.BroadDomainExpertiseQuality,
		rec.SpecificNicheFocus, rec.SpecificNicheFocusQuality,
		rec.IdealClientDefinition, rec.IdealClientDefinitionQuality,
		rec.TargetCustomerProblems, rec.TargetCustomerProblemsQuality,
		rec.SignatureOutcomes, rec.SignatureOutcomesQuality,
	)
	if err != nil {
		return fmt.Errorf("upsert persona section: %w", err)
	}
	return nil
}

func (s *Storage) GetSection1(ctx context.Context, sessionID string) ([]model.PersonaSection1, error) {
	query := `
		SELECT session_id,
			broad_domain_expertise, broad_domain_expertise_quality,
			specific_niche_focus, specific_niche_focus_quality,
			ideal_client_definition, ideal_client_definition_quality,
			target_customer_problems, target_customer_problems_quality,
			signature_outcomes, signature_outcomes_quality,
			updated_at
		FROM persona_section_1 WHERE session_id = $1
	`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query persona section: %w", err)
	}
	defer rows.Close()

	out := []model.PersonaSection1{}
	for rows.Next() {
		var rec model.PersonaSection1
		if err := rows.Scan(
			&rec.SessionID,
			&rec.BroadDomainExpertise, &rec.BroadDomainExpertiseQuality,
			&rec.SpecificNicheFocus, &rec.SpecificNicheFocusQuality,
			&rec.IdealClientDefinition, &rec.IdealClientDefinitionQuality,
			&rec.TargetCustomerProblems, &rec.TargetCustomerProblemsQuality,
			&rec.SignatureOutcomes, &rec.SignatureOutcomesQuality,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan persona section: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
