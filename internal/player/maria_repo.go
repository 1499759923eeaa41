package player

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/go-sql-driver/mysql"
)

// MariaRepo реализует Repository для базы данных MariaDB/MySQL.
// Использует таблицу players; инвентарь и инструменты хранятся в JSON-колонках.
type MariaRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaRepo создает новый репозиторий игроков для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaRepo(dsn string) (*MariaRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaRepo{db: db, now: time.Now}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return repo, nil
}

// DSN собирает строку подключения из параметров
func DSN(user, password, host string, port int, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func (r *MariaRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS players (
			id                 VARCHAR(64) PRIMARY KEY,
			health             INT         NOT NULL,
			inventory_space    INT         NOT NULL,
			movement_per_turn  INT         NOT NULL,
			resources          JSON        NOT NULL,
			tools              JSON        NOT NULL,
			crafting_materials JSON        NOT NULL,
			current_room_id    VARCHAR(64) NOT NULL DEFAULT '',
			pos_x              INT         NOT NULL DEFAULT 0,
			pos_y              INT         NOT NULL DEFAULT 0,
			created_at         DATETIME(3) NOT NULL,
			updated_at         DATETIME(3) NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы players: %w", err)
	}
	return nil
}

type jsonColumns struct {
	resources []byte
	tools     []byte
	crafting  []byte
}

func marshalColumns(p *Player) (jsonColumns, error) {
	var cols jsonColumns
	var err error
	if cols.resources, err = json.Marshal(p.Resources); err != nil {
		return cols, err
	}
	if cols.tools, err = json.Marshal(p.Tools); err != nil {
		return cols, err
	}
	cols.crafting, err = json.Marshal(p.CraftingMaterials)
	return cols, err
}

func (r *MariaRepo) Create(ctx context.Context, p *Player) error {
	cols, err := marshalColumns(p)
	if err != nil {
		return fmt.Errorf("ошибка сериализации игрока %s: %w", p.ID, err)
	}
	query := `
		INSERT INTO players (id, health, inventory_space, movement_per_turn, resources, tools,
			crafting_materials, current_room_id, pos_x, pos_y, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, p.ID, p.Health, p.InventorySpace, p.MovementPerTurn,
		cols.resources, cols.tools, cols.crafting, p.CurrentRoomID, p.Position.X, p.Position.Y,
		p.CreatedAt, p.UpdatedAt)

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return fmt.Errorf("%w: %s", ErrPlayerExists, p.ID)
	}
	if err != nil {
		return fmt.Errorf("ошибка создания игрока %s: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row rowScanner) (*Player, error) {
	var p Player
	var cols jsonColumns
	err := row.Scan(&p.ID, &p.Health, &p.InventorySpace, &p.MovementPerTurn,
		&cols.resources, &cols.tools, &cols.crafting, &p.CurrentRoomID,
		&p.Position.X, &p.Position.Y, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cols.resources, &p.Resources); err != nil {
		return nil, fmt.Errorf("ресурсы игрока %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(cols.tools, &p.Tools); err != nil {
		return nil, fmt.Errorf("инструменты игрока %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(cols.crafting, &p.CraftingMaterials); err != nil {
		return nil, fmt.Errorf("материалы игрока %s: %w", p.ID, err)
	}
	return &p, nil
}

const selectPlayer = `
	SELECT id, health, inventory_space, movement_per_turn, resources, tools,
		crafting_materials, current_room_id, pos_x, pos_y, created_at, updated_at
	FROM players WHERE id = ?
`

func (r *MariaRepo) Get(ctx context.Context, id string) (*Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx, selectPlayer, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки игрока %s: %w", id, err)
	}
	return p, nil
}

func (r *MariaRepo) Update(ctx context.Context, p *Player) error {
	cols, err := marshalColumns(p)
	if err != nil {
		return fmt.Errorf("ошибка сериализации игрока %s: %w", p.ID, err)
	}
	query := `
		UPDATE players SET health = ?, inventory_space = ?, movement_per_turn = ?,
			resources = ?, tools = ?, crafting_materials = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, p.Health, p.InventorySpace, p.MovementPerTurn,
		cols.resources, cols.tools, cols.crafting, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления игрока %s: %w", p.ID, err)
	}
	return r.expectRow(result, p.ID)
}

func (r *MariaRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления игрока %s: %w", id, err)
	}
	return r.expectRow(result, id)
}

// expectRow проверяет, что запрос затронул строку игрока.
// MySQL не считает строку затронутой, если значения не изменились,
// поэтому при нуле проверяем существование отдельно.
func (r *MariaRepo) expectRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRow(`SELECT 1 FROM players WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	return err
}

// AddResources читает инвентарь с блокировкой строки и записывает сумму в одной транзакции
func (r *MariaRepo) AddResources(ctx context.Context, id string, res dungeon.Resources) (*Player, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	p, err := scanPlayer(tx.QueryRowContext(ctx, selectPlayer+" FOR UPDATE", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки игрока %s: %w", id, err)
	}

	p.Resources = p.Resources.Add(res)
	p.UpdatedAt = r.now()
	data, err := json.Marshal(p.Resources)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE players SET resources = ?, updated_at = ? WHERE id = ?`,
		data, p.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("ошибка начисления ресурсов игроку %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return p, nil
}

func (r *MariaRepo) SetLocation(ctx context.Context, id, roomID string, pos vec.Vec2) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE players SET current_room_id = ?, pos_x = ?, pos_y = ?, updated_at = ? WHERE id = ?`,
		roomID, pos.X, pos.Y, r.now(), id)
	if err != nil {
		return fmt.Errorf("ошибка сохранения положения игрока %s: %w", id, err)
	}
	return r.expectRow(result, id)
}

// Close закрывает соединение с базой данных.
func (r *MariaRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
