package sqlinline

// Provider credentials used when the matching environment variable is empty.

const QSelectIntegrationToken = `--sql 3c9b51d2-6e0a-4f87-b2c4-1d7a90e5f613
select token
from integration_tokens
where provider = $1::text
  and token <> ''
`

const QUpsertIntegrationToken = `--sql a47e0c18-92d5-4b3f-8e61-5f2b7c0d9a34
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now()
`
