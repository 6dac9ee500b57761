package rtcp

import "time"

var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// NTPToTime конвертирует 64-битный NTP timestamp из SR в time.Time
func NTPToTime(ntp uint64) time.Time {
	seconds := int64(ntp >> 32)
	fraction := int64(ntp & 0xFFFFFFFF)
	nanoseconds := (fraction * 1e9) >> 32

	return ntpEpoch.Add(time.Duration(seconds)*time.Second + time.Duration(nanoseconds))
}

// DelayToDuration конвертирует DLSR (единицы 1/65536 секунды) в time.Duration
func DelayToDuration(dlsr uint32) time.Duration {
	return time.Duration(uint64(dlsr) * uint64(time.Second) / 65536)
}
