package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taixiu-backend/internal/models"
)

const (
	seedLength   = 16
	seedAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// OutcomeGenerator rolls dice from a SHA-256 digest of a timestamp-salted
// seed. The exact hashed string is kept on the outcome so anyone can
// recompute the dice.
type OutcomeGenerator struct {
	rules   models.Rules
	entropy io.Reader
	now     func() time.Time
	log     *zap.Logger
}

func NewOutcomeGenerator(rules models.Rules, log *zap.Logger) *OutcomeGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutcomeGenerator{
		rules:   rules,
		entropy: rand.Reader,
		now:     time.Now,
		log:     log,
	}
}

// Generate produces a fresh outcome. If the entropy source fails the seed is
// derived from the clock instead.
func (g *OutcomeGenerator) Generate() models.Outcome {
	rolledAt := g.now()
	seed, err := g.generateSeed()
	if err != nil {
		g.log.Error("entropy source failed, using clock-derived seed", zap.Error(err))
		seed = fallbackSeed(rolledAt)
	}
	preImage := seed + "_" + strconv.FormatInt(rolledAt.UnixNano(), 10)
	return g.FromPreImage(seed, preImage, rolledAt)
}

// FromPreImage derives the outcome for an already salted input.
func (g *OutcomeGenerator) FromPreImage(seed, preImage string, rolledAt time.Time) models.Outcome {
	sum := sha256.Sum256([]byte(preImage))
	hash := hex.EncodeToString(sum[:])

	dice := make([]int, g.rules.NumDice)
	faces := g.rules.DieMax - g.rules.DieMin + 1
	for i := range dice {
		// Two hex characters per die; Rules.Validate caps NumDice at 32.
		n, _ := strconv.ParseUint(hash[i*2:i*2+2], 16, 8)
		dice[i] = int(n)%faces + g.rules.DieMin
	}

	total, side := g.ResolveDice(dice)
	return models.Outcome{
		Seed:     seed,
		PreImage: preImage,
		Hash:     hash,
		Dice:     dice,
		Total:    total,
		Side:     side,
		RolledAt: rolledAt,
	}
}

// ResolveDice sums the dice and classifies the total.
func (g *OutcomeGenerator) ResolveDice(dice []int) (int, models.Side) {
	total := 0
	for _, d := range dice {
		total += d
	}
	return total, g.rules.SideFor(total)
}

// Verify recomputes a stored outcome from its pre-image.
func (g *OutcomeGenerator) Verify(outcome models.Outcome) (models.Outcome, bool) {
	expected := g.FromPreImage(outcome.Seed, outcome.PreImage, outcome.RolledAt)
	if expected.Hash != outcome.Hash || expected.Total != outcome.Total || expected.Side != outcome.Side {
		return expected, false
	}
	if len(expected.Dice) != len(outcome.Dice) {
		return expected, false
	}
	for i := range expected.Dice {
		if expected.Dice[i] != outcome.Dice[i] {
			return expected, false
		}
	}
	return expected, true
}

func (g *OutcomeGenerator) generateSeed() (string, error) {
	// Rejection sampling keeps the alphabet uniform.
	const limit = 256 - 256%len(seedAlphabet)

	seed := make([]byte, 0, seedLength)
	buf := make([]byte, seedLength*2)
	for len(seed) < seedLength {
		if _, err := io.ReadFull(g.entropy, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			seed = append(seed, seedAlphabet[int(b)%len(seedAlphabet)])
			if len(seed) == seedLength {
				break
			}
		}
	}
	return string(seed), nil
}

func fallbackSeed(at time.Time) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:seedLength]
}
