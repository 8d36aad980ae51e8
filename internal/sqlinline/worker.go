package sqlinline

const QWorkerClaimGenerations = `--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db
with candidates as (
    select id
    from generations
    where status in ('queued', 'queued_final')
       or (status in ('running_preview', 'running_final')
           and worker_id is null
           and (poll_after is null or poll_after <= $3))
    order by created_at asc
    for update skip locked
    limit $2
)
update generations g
set status = case g.status
                 when 'queued' then 'running_preview'
                 when 'queued_final' then 'running_final'
                 else g.status
             end,
    worker_id = $1::text,
    worker_heartbeat_at = $3,
    poll_after = null,
    updated_at = $3
from candidates c
where g.id = c.id
returning g.id, g.workspace_id, g.type, g.tier, g.prompt, g.status,
          g.preview_cost_credits, g.final_cost_credits,
          g.worker_id, g.worker_heartbeat_at, g.external_job_id, g.preview_external_job_id,
          g.progress, g.attempts, g.poll_after, g.error_message, g.preview_url, g.output_url,
          g.created_at, g.updated_at, g.submitted_at, g.preview_completed_at, g.final_requested_at, g.completed_at;
`

const QWorkerHeartbeat = `--sql 5fc67170-71a1-41d7-93cf-07e70c13d258
update generations
set worker_heartbeat_at = $3,
    progress = greatest(progress, $4::int),
    updated_at = $3
where id = $1::text
  and worker_id = $2::text
  and status in ('running_preview', 'running_final');
`

const QWorkerSetExternalJobID = `--sql 9364f248-9c9f-4964-bdfe-e34caa591e22
update generations
set external_job_id = $3::text,
    submitted_at = $4,
    worker_heartbeat_at = $4,
    updated_at = $4
where id = $1::text
  and worker_id = $2::text
  and external_job_id is null
  and status in ('running_preview', 'running_final');
`

const QWorkerRelease = `--sql ff771877-7ec8-41bb-a8ef-b12ff9061167
update generations
set worker_id = null,
    worker_heartbeat_at = null,
    poll_after = $3,
    progress = greatest(progress, $4::int),
    attempts = attempts + case when $5::boolean then 1 else 0 end,
    updated_at = $6
where id = $1::text
  and worker_id = $2::text
  and status in ('running_preview', 'running_final');
`

const QWorkerReclaimStale = `--sql 7a544301-acc1-4c34-a6e1-d9f62b3f4c7f
with stale as (
    select id, status, worker_id
    from generations
    where status in ('running_preview', 'running_final')
      and worker_id is not null
      and (worker_heartbeat_at is null or worker_heartbeat_at < $1)
    for update skip locked
)
update generations g
set status = case s.status when 'running_preview' then 'queued' else 'queued_final' end,
    worker_id = null,
    worker_heartbeat_at = null,
    poll_after = null,
    updated_at = $2
from stale s
where g.id = s.id
returning g.id, s.status, g.status, s.worker_id;
`
