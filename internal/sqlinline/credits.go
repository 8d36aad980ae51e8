package sqlinline

const QReserveCredits = `--sql 56e762e6-4df5-4e22-84f7-431e36fc032b
with debited as (
    update workspaces
    set credit_balance = credit_balance - $2::bigint,
        updated_at = now()
    where id = $1::text
      and credit_balance >= $2::bigint
    returning id, credit_balance
),
audit as (
    insert into credit_transactions (id, workspace_id, generation_id, delta, reason, balance_after, created_at)
    select $5::text, d.id, nullif($3::text, ''), -$2::bigint, $4::text, d.credit_balance, now()
    from debited d
)
select credit_balance from debited;
`

const QCreditWorkspace = `--sql a6a5d207-2a81-4a81-b093-e8913009b719
with credited as (
    insert into workspaces (id, credit_balance, created_at, updated_at)
    values ($1::text, $2::bigint, now(), now())
    on conflict (id) do update
        set credit_balance = workspaces.credit_balance + excluded.credit_balance,
            updated_at = now()
    returning id, credit_balance
),
audit as (
    insert into credit_transactions (id, workspace_id, generation_id, delta, reason, balance_after, created_at)
    select $5::text, c.id, nullif($3::text, ''), $2::bigint, $4::text, c.credit_balance, now()
    from credited c
)
select credit_balance from credited;
`

const QSelectCreditBalance = `--sql a8cf6643-98e1-4b5e-8c46-0ef0711bbb17
select credit_balance
from workspaces
where id = $1::text;
`

const QListCreditTransactions = `--sql b6a584f9-ad05-4810-8b9f-2c3f80ca1c87
select id, workspace_id, generation_id, delta, reason, balance_after, created_at
from credit_transactions
where workspace_id = $1::text
order by created_at desc, id desc
limit $2;
`
