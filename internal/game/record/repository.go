package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quizzer-app/quizzer/internal/models"
	"github.com/quizzer-app/quizzer/internal/sqlutil"
)

// Repository is the Postgres store for versioned records and board content.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// ToggleQuestion flips a question's answered flag and bumps its state
// version in a single atomic statement.
func (r *Repository) ToggleQuestion(ctx context.Context, questionID int64, answered bool) (*QuestionStatusResult, error) {
	result := QuestionStatusResult{QuestionID: questionID}
	err := r.db.QueryRowContext(ctx,
		`UPDATE questions
		    SET answered = $2, state_version = state_version + 1
		  WHERE id = $1
		 RETURNING answered, state_version`,
		questionID, answered,
	).Scan(&result.Answered, &result.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: question %d", ErrNotFound, questionID)
	}
	if err != nil {
		return nil, storeError("toggle question", err)
	}
	return &result, nil
}

// RecordPlayerAnswer applies the answer change, bumps the player's score
// version and recomputes the score, all inside one transaction.
//
// Answer semantics: recording the opposite correctness deletes the existing
// answer (an undo, so flipping a misclick removes the scoring entirely);
// the same correctness with different points updates it; otherwise a new
// answer row is inserted.
func (r *Repository) RecordPlayerAnswer(ctx context.Context, playerID int64, change RecordAnswerChange) (*PlayerAnswerResult, error) {
	result := PlayerAnswerResult{PlayerID: playerID}

	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var answerID int64
		var wasCorrect bool
		var points sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT id, is_correct, points FROM player_answers
			  WHERE player_id = $1 AND question_id = $2`,
			playerID, change.QuestionID,
		).Scan(&answerID, &wasCorrect, &points)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO player_answers (player_id, question_id, is_correct, points)
				 VALUES ($1, $2, $3, $4)`,
				playerID, change.QuestionID, *change.IsCorrect, nullInt(change.Points))
			if err != nil {
				return storeError("insert answer", err)
			}
		case err != nil:
			return storeError("load answer", err)
		case wasCorrect != *change.IsCorrect:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM player_answers WHERE id = $1`, answerID); err != nil {
				return storeError("undo answer", err)
			}
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE player_answers SET points = $2 WHERE id = $1`,
				answerID, nullInt(change.Points)); err != nil {
				return storeError("update answer", err)
			}
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE players SET score_version = score_version + 1
			  WHERE id = $1
			 RETURNING score_version`,
			playerID,
		).Scan(&result.Version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: player %d", ErrNotFound, playerID)
		}
		if err != nil {
			return storeError("bump score version", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(COALESCE(pa.points, q.points)), 0)
			   FROM player_answers pa
			   JOIN questions q ON q.id = pa.question_id
			  WHERE pa.player_id = $1`,
			playerID,
		).Scan(&result.Score)
		if err != nil {
			return storeError("compute score", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBoard loads a board with its categories and questions, including the
// question state versions clients reconcile against.
func (r *Repository) GetBoard(ctx context.Context, boardID int64) (*models.Board, error) {
	var board models.Board
	err := r.db.QueryRowContext(ctx,
		`SELECT id, game_id, name, ord FROM boards WHERE id = $1`,
		boardID,
	).Scan(&board.ID, &board.GameID, &board.Name, &board.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: board %d", ErrNotFound, boardID)
	}
	if err != nil {
		return nil, storeError("load board", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.board_id, c.name, c.ord,
		        q.id, q.category_id, q.text, q.answer, q.points, q.answered, q.ord, q.state_version
		   FROM categories c
		   LEFT JOIN questions q ON q.category_id = c.id
		  WHERE c.board_id = $1
		  ORDER BY c.ord, q.ord, q.points`,
		boardID)
	if err != nil {
		return nil, storeError("load categories", err)
	}
	defer rows.Close()

	index := map[int64]int{}
	for rows.Next() {
		var cat models.Category
		var q struct {
			id           sql.NullInt64
			categoryID   sql.NullInt64
			text         sql.NullString
			answer       sql.NullString
			points       sql.NullInt64
			answered     sql.NullBool
			ord          sql.NullInt64
			stateVersion sql.NullInt64
		}
		if err := rows.Scan(
			&cat.ID, &cat.BoardID, &cat.Name, &cat.Order,
			&q.id, &q.categoryID, &q.text, &q.answer, &q.points, &q.answered, &q.ord, &q.stateVersion,
		); err != nil {
			return nil, storeError("scan category row", err)
		}

		pos, ok := index[cat.ID]
		if !ok {
			pos = len(board.Categories)
			index[cat.ID] = pos
			board.Categories = append(board.Categories, cat)
		}
		if q.id.Valid {
			question := models.Question{
				ID:           q.id.Int64,
				CategoryID:   q.categoryID.Int64,
				Text:         q.text.String,
				Answer:       q.answer.String,
				Points:       int(q.points.Int64),
				Answered:     q.answered.Bool,
				StateVersion: q.stateVersion.Int64,
			}
			if q.ord.Valid {
				ord := int(q.ord.Int64)
				question.Order = &ord
			}
			board.Categories[pos].Questions = append(board.Categories[pos].Questions, question)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate categories", err)
	}
	return &board, nil
}

// GetGame loads a game with its boards, teams and players, including each
// player's computed score and score version.
func (r *Repository) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	var game models.Game
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, mode, points_term, created_at FROM games WHERE id = $1`,
		gameID,
	).Scan(&game.ID, &game.Name, &game.Mode, &game.PointsTerm, &game.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: game %d", ErrNotFound, gameID)
	}
	if err != nil {
		return nil, storeError("load game", err)
	}

	boardRows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, name, ord FROM boards WHERE game_id = $1 ORDER BY ord`,
		gameID)
	if err != nil {
		return nil, storeError("load boards", err)
	}
	defer boardRows.Close()
	for boardRows.Next() {
		var b models.Board
		if err := boardRows.Scan(&b.ID, &b.GameID, &b.Name, &b.Order); err != nil {
			return nil, storeError("scan board", err)
		}
		game.Boards = append(game.Boards, b)
	}
	if err := boardRows.Err(); err != nil {
		return nil, storeError("iterate boards", err)
	}

	teamRows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.game_id, t.name, t.color, t.created_at,
		        p.id, p.team_id, p.name, p.buzzer, p.score_version, p.created_at,
		        COALESCE((SELECT SUM(COALESCE(pa.points, q.points))
		                    FROM player_answers pa
		                    JOIN questions q ON q.id = pa.question_id
		                   WHERE pa.player_id = p.id), 0)
		   FROM teams t
		   LEFT JOIN players p ON p.team_id = t.id
		  WHERE t.game_id = $1
		  ORDER BY t.id, p.id`,
		gameID)
	if err != nil {
		return nil, storeError("load teams", err)
	}
	defer teamRows.Close()

	index := map[int64]int{}
	for teamRows.Next() {
		var team models.Team
		var color sql.NullString
		var p struct {
			id           sql.NullInt64
			teamID       sql.NullInt64
			name         sql.NullString
			buzzer       sql.NullInt64
			scoreVersion sql.NullInt64
			createdAt    sql.NullTime
			score        sql.NullInt64
		}
		if err := teamRows.Scan(
			&team.ID, &team.GameID, &team.Name, &color, &team.CreatedAt,
			&p.id, &p.teamID, &p.name, &p.buzzer, &p.scoreVersion, &p.createdAt, &p.score,
		); err != nil {
			return nil, storeError("scan team row", err)
		}
		team.Color = color.String

		pos, ok := index[team.ID]
		if !ok {
			pos = len(game.Teams)
			index[team.ID] = pos
			game.Teams = append(game.Teams, team)
		}
		if p.id.Valid {
			player := models.Player{
				ID:           p.id.Int64,
				TeamID:       p.teamID.Int64,
				Name:         p.name.String,
				Score:        int(p.score.Int64),
				ScoreVersion: p.scoreVersion.Int64,
				CreatedAt:    p.createdAt.Time,
			}
			if p.buzzer.Valid {
				buzzer := int(p.buzzer.Int64)
				player.Buzzer = &buzzer
			}
			game.Teams[pos].Players = append(game.Teams[pos].Players, player)
		}
	}
	if err := teamRows.Err(); err != nil {
		return nil, storeError("iterate teams", err)
	}
	return &game, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// storeError maps integrity violations to ErrConflict; anything else is an
// infrastructure failure.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
