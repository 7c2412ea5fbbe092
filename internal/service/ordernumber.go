package service

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderNumberGenerator produces ORD-<YYYYMMDD>-<user>-<seconds mod 10000>-<suffix>.
// The random suffix keeps two orders from the same user in the same second
// apart; the unique constraint on order_number catches anything left.
type OrderNumberGenerator struct {
	now    func() time.Time
	suffix func() string
}

func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{now: time.Now, suffix: randomSuffix}
}

func (g *OrderNumberGenerator) Next(userID int64) string {
	t := g.now()
	return fmt.Sprintf("ORD-%s-%04d-%04d-%s", t.Format("20060102"), userID, t.Unix()%10000, g.suffix())
}

func randomSuffix() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:3]))
}
