package channelsync

import (
	"time"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// render turns ledger views into the canonical records for one channel.
// Past dates, archived rows and dates beyond the channel's lead time are
// left out.
func render(views []inventory.RowView, mapping models.RoomMapping, ch *models.Channel, now time.Time) []channels.Record {
	settings := ch.Settings
	today := types.Day(now)
	var horizon time.Time
	if settings.MaxLeadTimeDays > 0 {
		horizon = types.AddDays(today, settings.MaxLeadTimeDays)
	}
	ratePlan := ""
	if len(mapping.RatePlanMappings) > 0 {
		ratePlan = mapping.RatePlanMappings[0].ChannelRatePlan
	}

	var channelDefaults types.Restrictions
	if settings.MinLOS > 0 {
		channelDefaults.MinLOS = types.IntPtr(settings.MinLOS)
	}
	if settings.MaxLOS > 0 {
		channelDefaults.MaxLOS = types.IntPtr(settings.MaxLOS)
	}

	records := make([]channels.Record, 0, len(views))
	for _, v := range views {
		day := types.Day(v.Date)
		if v.Archived || day.Before(today) {
			continue
		}
		if !horizon.IsZero() && day.After(horizon) {
			continue
		}
		restrictions := v.Restrictions.Merge(ch.Restrictions).Merge(channelDefaults)
		available := v.Available
		if restrictions.StopSell {
			available = 0
		}
		currency := v.Currency
		if currency == "" {
			currency = settings.Currency
		}
		records = append(records, channels.Record{
			Date:              day,
			RoomTypeID:        v.RoomTypeID,
			ChannelRoomTypeID: mapping.ChannelRoomTypeID,
			RatePlanCode:      ratePlan,
			Availability:      available,
			Rate:              v.SellingRate,
			Currency:          currency,
			Restrictions:      restrictions,
		})
	}
	return records
}

func syncKinds(settings models.ChannelSettings) []channels.SyncKind {
	var kinds []channels.SyncKind
	if settings.EnableRateSync {
		kinds = append(kinds, channels.SyncRates)
	}
	if settings.EnableInventorySync {
		kinds = append(kinds, channels.SyncInventory)
	}
	if settings.EnableRestrictionSync {
		kinds = append(kinds, channels.SyncRestrictions)
	}
	return kinds
}
