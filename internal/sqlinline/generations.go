package sqlinline

const QInsertGeneration = `--sql 0623474b-45eb-4095-9d63-d9d76c49e3cf
insert into generations (
    id, workspace_id, type, tier, prompt, status,
    preview_cost_credits, final_cost_credits,
    progress, attempts, created_at, updated_at
)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::bigint, $8::bigint, 0, 0, $9, $9);
`

const QSelectGeneration = `--sql 1f102b49-c589-4c6c-822f-9a99ba18b762
select id, workspace_id, type, tier, prompt, status,
       preview_cost_credits, final_cost_credits,
       worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
       progress, attempts, poll_after, error_message, preview_url, output_url,
       created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at
from generations
where id = $1::text;
`

const QSelectGenerationForWorkspace = `--sql 532e92af-4822-425e-92eb-774ab3d6d787
select id, workspace_id, type, tier, prompt, status,
       preview_cost_credits, final_cost_credits,
       worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
       progress, attempts, poll_after, error_message, preview_url, output_url,
       created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at
from generations
where id = $1::text and workspace_id = $2::text;
`

const QSelectGenerationByExternalID = `--sql 7884c3e9-89d4-4f42-9b20-8a233de4cb8c
select id, workspace_id, type, tier, prompt, status,
       preview_cost_credits, final_cost_credits,
       worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
       progress, attempts, poll_after, error_message, preview_url, output_url,
       created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at
from generations
where external_job_id = $1::text or preview_external_job_id = $1::text
order by coalesce(external_job_id = $1::text, false) desc, created_at desc
limit 1;
`

const QListGenerations = `--sql a45b63ff-1461-4592-9810-d3fbd506be20
select id, workspace_id, type, tier, prompt, status,
       preview_cost_credits, final_cost_credits,
       worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
       progress, attempts, poll_after, error_message, preview_url, output_url,
       created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at
from generations
where workspace_id = $1::text
  and (cardinality($2::text[]) = 0 or status = any($2::text[]))
  and (cardinality($3::text[]) = 0 or type = any($3::text[]))
order by created_at desc, id desc
limit $4 offset $5;
`

const QTransitionGeneration = `--sql 65a50ef4-b63b-49f9-a16d-c4ba6749d959
update generations
set status = $3::text,
    worker_id = null,
    worker_heartbeat_at = null,
    poll_after = null,
    error_message = case when $3::text = 'failed' then nullif($5::text, '') else error_message end,
    preview_url = case when $3::text = 'preview_ready' then coalesce(nullif($6::text, ''), preview_url) else preview_url end,
    output_url = case when $3::text = 'final_ready' then coalesce(nullif($6::text, ''), output_url) else output_url end,
    progress = case when $3::text in ('preview_ready', 'final_ready') then 100
                    when $3::text in ('queued', 'queued_final') then 0
                    else progress end,
    preview_completed_at = case when $3::text = 'preview_ready' then $7 else preview_completed_at end,
    completed_at = case when $3::text in ('final_ready', 'cancelled', 'failed') then $7 else completed_at end,
    updated_at = $7
where id = $1::text
  and status = any($2::text[])
  and ($4::text = '' or worker_id = $4::text)
  and ($8::text = '' or external_job_id = $8::text)
returning id, workspace_id, type, tier, prompt, status,
          preview_cost_credits, final_cost_credits,
          worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
          progress, attempts, poll_after, error_message, preview_url, output_url,
          created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at;
`

const QFinalizeGeneration = `--sql 38b05704-64c9-47d8-b96d-a18db6324001
update generations
set status = 'queued_final',
    final_requested_at = $2,
    preview_external_job_id = external_job_id,
    external_job_id = null,
    submitted_at = null,
    progress = 0,
    attempts = 0,
    poll_after = null,
    updated_at = $2
where id = $1::text and status = 'preview_ready'
returning id, workspace_id, type, tier, prompt, status,
          preview_cost_credits, final_cost_credits,
          worker_id, worker_heartbeat_at, external_job_id, preview_external_job_id,
          progress, attempts, poll_after, error_message, preview_url, output_url,
          created_at, updated_at, submitted_at, preview_completed_at, final_requested_at, completed_at;
`
