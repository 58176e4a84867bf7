package sqlinline

const QListActiveAccounts = `--sql e7c83321-9549-4f25-be5d-51497aaffe71
select
  id::text,
  coalesce(email, ''),
  token,
  coalesce(cookies, ''),
  coalesce(project_id, ''),
  coalesce(usage_count, 0),
  coalesce(usage_limit, 0),
  is_active,
  updated_at
from flow_accounts
where is_active = true
  and token is not null
order by updated_at desc;
`

const QSelectAccountByID = `--sql 4bb868e6-11b5-48a4-907a-53059f7db61f
select
  id::text,
  coalesce(email, ''),
  coalesce(token, ''),
  coalesce(cookies, ''),
  coalesce(project_id, ''),
  coalesce(usage_count, 0),
  coalesce(usage_limit, 0),
  is_active,
  updated_at
from flow_accounts
where id = $1::uuid
limit 1;
`

// QSetAccountUsage writes an absolute counter value computed by the caller, so
// replaying it is harmless. Concurrent writers may still lose updates.
const QSetAccountUsage = `--sql aad6296e-d1d7-47a8-a040-69ac4a865dab
update flow_accounts
set usage_count = $2::int,
    last_used_at = now()
where id = $1::uuid;
`

const QResetActiveUsage = `--sql 2a798fa9-4255-43d2-a7d1-9439ff003856
update flow_accounts
set usage_count = 0
where is_active = true;
`

const QUpdateAccountToken = `--sql ff56d460-ede4-4e95-97ee-a4e827e50ef4
update flow_accounts
set token = $2::text,
    token_expires_at = $3::timestamptz,
    updated_at = now()
where id = $1::uuid;
`
