package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportRequestCacheKey(t *testing.T) {
	req := ReportRequest{AccountID: "prod", ReportType: ReportTypeDashboard, GroupBy: DimensionService, Days: 30, Periods: 7}
	assert.Equal(t, "report:prod:dashboard-30d-7p:service:-", req.CacheKey())

	req.GroupBy = DimensionTag
	req.TagKey = "cost:center"
	assert.Equal(t, "report:prod:dashboard-30d-7p:tag:cost%3Acenter", req.CacheKey())
	assert.True(t, strings.HasPrefix(req.CacheKey(), AccountCachePrefix("prod")))
}

func TestAccountCachePrefix_DoesNotMatchLongerIDs(t *testing.T) {
	key := CacheKey("acct-10", "dashboard", DimensionService, "")
	assert.False(t, strings.HasPrefix(key, AccountCachePrefix("acct-1")))
	assert.Equal(t, "report:a%3Ab:", AccountCachePrefix("a:b"))
}
