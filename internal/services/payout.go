package services

import "taixiu-backend/internal/models"

// Payout returns the signed balance delta for a wager: twice the stake on a
// win, minus the stake on a loss.
func Payout(amount int64, side, outcomeSide models.Side) int64 {
	if side == outcomeSide {
		return 2 * amount
	}
	return -amount
}

// SettleWager turns a frozen session wager into its persisted record.
func SettleWager(wager models.Wager, outcome models.Outcome) models.WagerRecord {
	payout := Payout(wager.Amount, wager.Side, outcome.Side)
	return models.WagerRecord{
		PlayerID:  wager.ParticipantID,
		OutcomeID: outcome.ID,
		Amount:    wager.Amount,
		Side:      wager.Side,
		Won:       payout > 0,
		Payout:    payout,
		CreatedAt: outcome.RolledAt,
	}
}
