package gamemap

import (
	"context"
	"errors"

	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/google/uuid"
)

// ErrPlayersDisabled сервис создан без репозитория игроков
var ErrPlayersDisabled = errors.New("gamemap: player repository is not configured")

// CreatePlayer регистрирует игрока со значениями по умолчанию.
// Пустой id заменяется сгенерированным.
func (s *Service) CreatePlayer(ctx context.Context, id string) (*player.Player, error) {
	if s.players == nil {
		return nil, ErrPlayersDisabled
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := player.New(id, s.now())
	if err := s.players.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("👤 player %s registered", id)
	return p, nil
}

// GetPlayer игрок по id
func (s *Service) GetPlayer(ctx context.Context, id string) (*player.Player, error) {
	if s.players == nil {
		return nil, ErrPlayersDisabled
	}
	return s.players.Get(ctx, id)
}

// UpdatePlayer применяет частичное изменение характеристик и инвентаря
func (s *Service) UpdatePlayer(ctx context.Context, id string, u player.Update) (*player.Player, error) {
	if s.players == nil {
		return nil, ErrPlayersDisabled
	}
	p, err := s.players.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.Apply(p, s.now()); err != nil {
		return nil, err
	}
	if err := s.players.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePlayer удаляет запись игрока; его комнаты остаются в хранилище
func (s *Service) DeletePlayer(ctx context.Context, id string) error {
	if s.players == nil {
		return ErrPlayersDisabled
	}
	if err := s.players.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("player %s deleted", id)
	return nil
}
