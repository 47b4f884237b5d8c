package directory

import (
	"context"
	"log"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/models"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
	"gorm.io/gorm"
)

// Service is the user directory: lookup and search, plus the process-wide
// online/offline flag whose lifecycle is driven by presence transitions.
// The flag lives on the User row and is mirrored to Redis; transitions are
// additionally published to RabbitMQ for out-of-process consumers. Redis
// and RabbitMQ are optional and best-effort; the row is the source of
// truth.
type Service struct {
	db       *gorm.DB
	presence *redisstore.Store
	events   *rabbitmq.Publisher
}

func NewService(db *gorm.DB, presence *redisstore.Store, events *rabbitmq.Publisher) *Service {
	return &Service{db: db, presence: presence, events: events}
}

func (s *Service) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Search lists every user except self, optionally filtered by a username
// prefix, most recently seen first.
func (s *Service) Search(ctx context.Context, selfID uint64, q string) ([]models.User, error) {
	tx := s.db.WithContext(ctx).Where("id <> ?", selfID)
	if q != "" {
		tx = tx.Where("username LIKE ?", q+"%")
	}
	var users []models.User
	if err := tx.Order("is_online DESC, last_seen DESC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// UserOnline is invoked by the session router when a user's first live
// session registers.
func (s *Service) UserOnline(ctx context.Context, userID uint64) {
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_online", true).Error; err != nil {
		log.Printf("directory: set online user=%d err=%v", userID, err)
	}
	if s.presence != nil {
		if err := s.presence.SetOnline(ctx, userID); err != nil {
			log.Printf("directory: redis online user=%d err=%v", userID, err)
		}
	}
	s.publish(ctx, userID, true, time.Now())
}

// UserOffline is invoked when a user's last live session unregisters.
func (s *Service) UserOffline(ctx context.Context, userID uint64) {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_online": false,
			"last_seen": now,
		}).Error; err != nil {
		log.Printf("directory: set offline user=%d err=%v", userID, err)
	}
	if s.presence != nil {
		if err := s.presence.SetOffline(ctx, userID, now); err != nil {
			log.Printf("directory: redis offline user=%d err=%v", userID, err)
		}
	}
	s.publish(ctx, userID, false, now)
}

func (s *Service) publish(ctx context.Context, userID uint64, online bool, at time.Time) {
	if s.events == nil {
		return
	}
	ev := rabbitmq.PresenceEvent{UserID: userID, Online: online, At: at}
	if err := s.events.PublishPresence(ctx, ev); err != nil {
		log.Printf("directory: publish presence user=%d online=%t err=%v", userID, online, err)
	}
}
