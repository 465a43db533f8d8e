package postgres

const queryInsertEvent = `
INSERT INTO weighted_events (tenant_id, actor, campaign_id, type, weight, ts)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListEventsSince = `
SELECT tenant_id, actor, campaign_id, type, weight, ts
FROM weighted_events
WHERE tenant_id = $1
  AND ts >= $2
  AND ($3 = '' OR campaign_id = $3)
ORDER BY ts ASC
`

const queryDeleteEventsBefore = `
DELETE FROM weighted_events WHERE ts < $1
`

const queryUpsertProfile = `
INSERT INTO audience_profiles (tenant_id, actor, within_days, total_weight, tier, last_event_at, last_campaign_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, actor) DO UPDATE SET
    within_days = EXCLUDED.within_days,
    total_weight = EXCLUDED.total_weight,
    tier = EXCLUDED.tier,
    last_event_at = EXCLUDED.last_event_at,
    last_campaign_id = EXCLUDED.last_campaign_id,
    updated_at = EXCLUDED.updated_at
`

const queryGetProfile = `
SELECT tenant_id, actor, within_days, total_weight, tier, last_event_at, last_campaign_id, updated_at
FROM audience_profiles
WHERE tenant_id = $1 AND actor = $2
`

const queryGetTiers = `
SELECT actor, tier
FROM audience_profiles
WHERE tenant_id = $1 AND actor = ANY($2)
`

const queryInsertAction = `
INSERT INTO audience_actions (id, tenant_id, entity_id, from_tier, to_tier, type, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING
`

const queryInsertRun = `
INSERT INTO sender_runs (key, tenant_id, campaign_id, lead_id, status, step_index, next_at, history, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, key) DO NOTHING
`

const queryGetRun = `
SELECT key, tenant_id, campaign_id, lead_id, status, step_index, next_at, history, last_error, created_at, updated_at
FROM sender_runs
WHERE tenant_id = $1 AND key = $2
`

const queryUpdateRun = `
UPDATE sender_runs
SET status = $3, step_index = $4, next_at = $5, history = $6, last_error = $7, updated_at = $8
WHERE tenant_id = $1 AND key = $2
  AND step_index <= $4
`

const queryResetRun = `
UPDATE sender_runs
SET status = 'pending', step_index = 0, next_at = $3, last_error = '', updated_at = $3
WHERE tenant_id = $1 AND key = $2
`

const queryListDue = `
SELECT key, tenant_id, campaign_id, lead_id, status, step_index, next_at, history, last_error, created_at, updated_at
FROM sender_runs
WHERE tenant_id = $1
  AND ($2 = '' OR campaign_id = $2)
  AND status IN ('pending', 'running')
  AND next_at <= $3
ORDER BY next_at ASC
LIMIT $4
`

const queryListRuns = `
SELECT key, tenant_id, campaign_id, lead_id, status, step_index, next_at, history, last_error, created_at, updated_at
FROM sender_runs
WHERE tenant_id = $1
  AND ($2 = '' OR status = $2)
ORDER BY updated_at DESC
LIMIT $3 OFFSET $4
`

const queryListTenantsWithDue = `
SELECT DISTINCT tenant_id
FROM sender_runs
WHERE status IN ('pending', 'running')
  AND next_at <= $1
ORDER BY tenant_id
LIMIT $2
`

const queryListActiveTenants = `
SELECT DISTINCT tenant_id
FROM weighted_events
WHERE ts >= $1
ORDER BY tenant_id
`

const queryInsertSenderEvent = `
INSERT INTO sender_events (id, tenant_id, run_key, campaign_id, lead_id, step_index, channel, type, reason, tier, score, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryDeleteSenderEventsBefore = `
DELETE FROM sender_events WHERE created_at < $1
`

const queryGetCampaign = `
SELECT id, name, outreach_enabled, draft_email, draft_sms, draft_whatsapp,
       step_delay_0_ms, step_delay_1_ms, step_delay_2_ms, landing_url
FROM campaigns
WHERE tenant_id = $1 AND id = $2
`

const queryGetLead = `
SELECT id, name, email_address, phone_number, direction, hot_score_hint
FROM leads
WHERE tenant_id = $1 AND id = $2
`

const queryGetNotifyTarget = `
SELECT notify_url, notify_secret
FROM tenants
WHERE id = $1 AND notify_url <> ''
`
