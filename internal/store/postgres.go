package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  queryer
	tx *sql.Tx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Repository) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const languageKeyBits = 16

// treeLockKey packs a (group, language) pair into the single bigint advisory
// lock key space. Ids that do not fit are rejected rather than truncated.
func treeLockKey(groupID, languageID int64) (int64, error) {
	if languageID < 0 || languageID >= 1<<languageKeyBits || groupID < 0 || groupID >= 1<<(63-languageKeyBits) {
		return 0, fmt.Errorf("lock tree %d/%d: id out of lock key range", groupID, languageID)
	}
	return groupID<<languageKeyBits | languageID, nil
}

// LockTree takes a transaction-scoped advisory lock on the (group, language)
// pair. Outside a transaction it is a no-op.
func (s *PostgresStore) LockTree(ctx context.Context, groupID, languageID int64) error {
	if s.tx == nil {
		return nil
	}
	key, err := treeLockKey(groupID, languageID)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::bigint)`, key); err != nil {
		return fmt.Errorf("lock tree %d/%d: %w", groupID, languageID, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetLanguage(ctx context.Context, code string) (Language, error) {
	var item Language
	err := s.q.QueryRowContext(ctx, `SELECT id, code, locale, name FROM languages WHERE code=$1`, code).
		Scan(&item.ID, &item.Code, &item.Locale, &item.Name)
	if err != nil {
		return Language{}, notFound(err, "get language %s", code)
	}
	return item, nil
}

func (s *PostgresStore) ListLanguages(ctx context.Context) ([]Language, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, code, locale, name FROM languages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer rows.Close()

	items := make([]Language, 0)
	for rows.Next() {
		var item Language
		if err := rows.Scan(&item.ID, &item.Code, &item.Locale, &item.Name); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate languages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertLanguage(ctx context.Context, language *Language) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO languages (code, locale, name)
		VALUES ($1, $2, $3)
		RETURNING id
	`, language.Code, language.Locale, language.Name).Scan(&language.ID)
	if err != nil {
		return fmt.Errorf("insert language: %w", err)
	}
	return nil
}

const groupColumns = `id, title, abbreviation, slug, type, public, content_item_id, designer_id, color, position, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (LawGroup, error) {
	var item LawGroup
	var contentItemID sql.NullInt64
	var designerID sql.NullString
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Abbreviation,
		&item.Slug,
		&item.Type,
		&item.Public,
		&contentItemID,
		&designerID,
		&item.Color,
		&item.Position,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return LawGroup{}, err
	}
	if contentItemID.Valid {
		item.ContentItemID = &contentItemID.Int64
	}
	if designerID.Valid {
		item.DesignerID = &designerID.String
	}
	return item, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (LawGroup, error) {
	item, err := scanGroup(s.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM law_groups WHERE id=$1`, groupID))
	if err != nil {
		return LawGroup{}, notFound(err, "get group %d", groupID)
	}
	return item, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, filter GroupFilter) ([]LawGroup, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM law_groups
		WHERE ($1 = '' OR type = $1)
		  AND (NOT $2::boolean OR public)
		ORDER BY position ASC, id ASC
	`, string(filter.Type), filter.PublicOnly)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]LawGroup, 0)
	for rows.Next() {
		item, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertGroup(ctx context.Context, group *LawGroup) error {
	prepareGroup(group)
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO law_groups (title, abbreviation, slug, type, public, content_item_id, designer_id, color, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, group.Title, group.Abbreviation, group.Slug, string(group.Type), group.Public, nullInt(group.ContentItemID), nullString(group.DesignerID), group.Color, group.Position).
		Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, group *LawGroup) error {
	prepareGroup(group)
	result, err := s.q.ExecContext(ctx, `
		UPDATE law_groups
		SET title=$2, abbreviation=$3, slug=$4, type=$5, public=$6, content_item_id=$7, designer_id=$8, color=$9, position=$10, updated_at=NOW()
		WHERE id=$1
	`, group.ID, group.Title, group.Abbreviation, group.Slug, string(group.Type), group.Public, nullInt(group.ContentItemID), nullString(group.DesignerID), group.Color, group.Position)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return requireAffected(result, "update group %d", group.ID)
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, groupID int64) error {
	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM law_references
		WHERE reference_id IN (SELECT id FROM laws WHERE group_id=$1)
		   OR law_id IN (SELECT id FROM laws WHERE group_id=$1)
	`, groupID); err != nil {
		return fmt.Errorf("delete group references: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM laws WHERE group_id=$1`, groupID); err != nil {
		return fmt.Errorf("delete group laws: %w", err)
	}
	result, err := s.q.ExecContext(ctx, `DELETE FROM law_groups WHERE id=$1`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(result, "delete group %d", groupID)
}

const lawColumns = `id, group_id, language_id, parent_id, title, plain_title, description, plain_description, law_code, position, prime_law, locked_position, allow_sub_laws, allow_description, created_at, updated_at`

func scanLaw(row interface{ Scan(...any) error }) (Law, error) {
	var item Law
	var parentID sql.NullInt64
	err := row.Scan(
		&item.ID,
		&item.GroupID,
		&item.LanguageID,
		&parentID,
		&item.Title,
		&item.PlainTitle,
		&item.Description,
		&item.PlainDescription,
		&item.LawCode,
		&item.Position,
		&item.PrimeLaw,
		&item.LockedPosition,
		&item.AllowSubLaws,
		&item.AllowDescription,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Law{}, err
	}
	if parentID.Valid {
		item.ParentID = &parentID.Int64
	}
	return item, nil
}

func (s *PostgresStore) queryLaws(ctx context.Context, label, query string, args ...any) ([]Law, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	defer rows.Close()

	items := make([]Law, 0)
	for rows.Next() {
		item, err := scanLaw(rows)
		if err != nil {
			return nil, fmt.Errorf("scan law: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate laws: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetLaw(ctx context.Context, lawID int64) (Law, error) {
	item, err := scanLaw(s.q.QueryRowContext(ctx, `SELECT `+lawColumns+` FROM laws WHERE id=$1`, lawID))
	if err != nil {
		return Law{}, notFound(err, "get law %d", lawID)
	}
	return item, nil
}

func (s *PostgresStore) GetPrimeLaw(ctx context.Context, groupID, languageID int64) (Law, error) {
	item, err := scanLaw(s.q.QueryRowContext(ctx, `
		SELECT `+lawColumns+`
		FROM laws
		WHERE group_id=$1 AND language_id=$2 AND prime_law
	`, groupID, languageID))
	if err != nil {
		return Law{}, notFound(err, "get prime law for group %d", groupID)
	}
	return item, nil
}

func (s *PostgresStore) ListSiblings(ctx context.Context, groupID, languageID int64, parentID *int64) ([]Law, error) {
	return s.queryLaws(ctx, "list siblings", `
		SELECT `+lawColumns+`
		FROM laws
		WHERE group_id=$1 AND language_id=$2 AND parent_id IS NOT DISTINCT FROM $3 AND NOT prime_law
		ORDER BY position ASC, id ASC
	`, groupID, languageID, nullInt(parentID))
}

func (s *PostgresStore) ListTreeLaws(ctx context.Context, groupID, languageID int64) ([]Law, error) {
	return s.queryLaws(ctx, "list tree laws", `
		SELECT `+lawColumns+`
		FROM laws
		WHERE group_id=$1 AND language_id=$2
		ORDER BY position ASC, id ASC
	`, groupID, languageID)
}

func (s *PostgresStore) FindLawByCode(ctx context.Context, groupID, languageID int64, code string) (Law, error) {
	item, err := scanLaw(s.q.QueryRowContext(ctx, `
		SELECT `+lawColumns+`
		FROM laws
		WHERE group_id=$1 AND language_id=$2 AND law_code=$3 AND NOT prime_law
		ORDER BY id ASC
		LIMIT 1
	`, groupID, languageID, code))
	if err != nil {
		return Law{}, notFound(err, "find law %s in group %d", code, groupID)
	}
	return item, nil
}

func (s *PostgresStore) InsertLaw(ctx context.Context, law *Law) error {
	prepareLaw(law)
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO laws (group_id, language_id, parent_id, title, plain_title, description, plain_description, law_code, position, prime_law, locked_position, allow_sub_laws, allow_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		law.GroupID,
		law.LanguageID,
		nullInt(law.ParentID),
		law.Title,
		law.PlainTitle,
		law.Description,
		law.PlainDescription,
		law.LawCode,
		law.Position,
		law.PrimeLaw,
		law.LockedPosition,
		law.AllowSubLaws,
		law.AllowDescription,
	).Scan(&law.ID, &law.CreatedAt, &law.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert law: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLaw(ctx context.Context, law *Law) error {
	prepareLaw(law)
	result, err := s.q.ExecContext(ctx, `
		UPDATE laws
		SET parent_id=$2, title=$3, plain_title=$4, description=$5, plain_description=$6, law_code=$7,
			position=$8, prime_law=$9, locked_position=$10, allow_sub_laws=$11, allow_description=$12, updated_at=NOW()
		WHERE id=$1
	`,
		law.ID,
		nullInt(law.ParentID),
		law.Title,
		law.PlainTitle,
		law.Description,
		law.PlainDescription,
		law.LawCode,
		law.Position,
		law.PrimeLaw,
		law.LockedPosition,
		law.AllowSubLaws,
		law.AllowDescription,
	)
	if err != nil {
		return fmt.Errorf("update law: %w", err)
	}
	return requireAffected(result, "update law %d", law.ID)
}

func (s *PostgresStore) DeleteLaws(ctx context.Context, lawIDs []int64) error {
	if len(lawIDs) == 0 {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM law_references WHERE law_id = ANY($1)`, uniqueIDs(lawIDs)); err != nil {
		return fmt.Errorf("delete law references: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM laws WHERE id = ANY($1)`, uniqueIDs(lawIDs)); err != nil {
		return fmt.Errorf("delete laws: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReferences(ctx context.Context, lawID int64) ([]Law, error) {
	return s.queryLaws(ctx, "list references", `
		SELECT `+prefixed("l", lawColumns)+`
		FROM law_references r
		JOIN laws l ON l.id = r.reference_id
		WHERE r.law_id=$1
		ORDER BY l.id ASC
	`, lawID)
}

func (s *PostgresStore) SetReferences(ctx context.Context, lawID int64, referenceIDs []int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM law_references WHERE law_id=$1`, lawID); err != nil {
		return fmt.Errorf("clear references: %w", err)
	}
	for _, referenceID := range uniqueIDs(referenceIDs) {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO law_references (law_id, reference_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, lawID, referenceID); err != nil {
			return fmt.Errorf("insert reference: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RemoveReferencesTo(ctx context.Context, lawIDs []int64) error {
	if len(lawIDs) == 0 {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM law_references WHERE reference_id = ANY($1)`, uniqueIDs(lawIDs)); err != nil {
		return fmt.Errorf("remove references: %w", err)
	}
	return nil
}

const rulesFileColumns = `id, version, sha, commit_date, language_id, content_item_id, status, file_key, created_at`

func scanRulesFile(row interface{ Scan(...any) error }) (RulesFile, error) {
	var item RulesFile
	var contentItemID sql.NullInt64
	err := row.Scan(
		&item.ID,
		&item.Version,
		&item.SHA,
		&item.CommitDate,
		&item.LanguageID,
		&contentItemID,
		&item.Status,
		&item.FileKey,
		&item.CreatedAt,
	)
	if err != nil {
		return RulesFile{}, err
	}
	if contentItemID.Valid {
		item.ContentItemID = &contentItemID.Int64
	}
	return item, nil
}

func (s *PostgresStore) InsertRulesFile(ctx context.Context, file *RulesFile) error {
	if file.Status == "" {
		file.Status = RulesFileNew
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO rules_files (version, sha, commit_date, language_id, content_item_id, status, file_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, file.Version, file.SHA, file.CommitDate, file.LanguageID, nullInt(file.ContentItemID), string(file.Status), file.FileKey).
		Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rules file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRulesFile(ctx context.Context, fileID int64) (RulesFile, error) {
	item, err := scanRulesFile(s.q.QueryRowContext(ctx, `SELECT `+rulesFileColumns+` FROM rules_files WHERE id=$1`, fileID))
	if err != nil {
		return RulesFile{}, notFound(err, "get rules file %d", fileID)
	}
	return item, nil
}

func (s *PostgresStore) ListRulesFiles(ctx context.Context, filter RulesFileFilter) ([]RulesFile, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+rulesFileColumns+`
		FROM rules_files
		WHERE ($1 = '' OR version = $1)
		  AND ($2 = 0 OR language_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY id DESC
	`, filter.Version, filter.LanguageID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list rules files: %w", err)
	}
	defer rows.Close()

	items := make([]RulesFile, 0)
	for rows.Next() {
		item, err := scanRulesFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rules file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRulesFileStatus(ctx context.Context, fileID int64, status RulesFileStatus) error {
	result, err := s.q.ExecContext(ctx, `UPDATE rules_files SET status=$2 WHERE id=$1`, fileID, string(status))
	if err != nil {
		return fmt.Errorf("update rules file status: %w", err)
	}
	return requireAffected(result, "update rules file %d", fileID)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func requireAffected(result sql.Result, format string, args ...any) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf(format+" rows: %w", append(args, err)...)
	}
	if affected == 0 {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return nil
}

func nullInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
