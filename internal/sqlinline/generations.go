// Package sqlinline holds the service's SQL statements as marked constants.
// The first line of every statement is a --sql marker; infra.SQLRunner logs
// queries by marker and refuses to run unmarked SQL.
package sqlinline

const generationColumns = `
  id, user_id, original_image_url, generated_image_url, prompt_text, status,
  payment_ref, error_message, quality_score, processing_time, commercial_style,
  target_audience, brand_guidelines, workflow_metadata, external_execution_id,
  workflow_version, created_at, updated_at`

const QInsertGeneration = `--sql 43a8113c-d0db-4e7a-8d37-044f91fb7a83
insert into generations (id, user_id, original_image_url, prompt_text, status)
values ($1, $2, $3, $4, 'pending')
returning id, status, created_at;
`

const QSelectGenerationByID = `--sql 5385e6ff-84e8-40cc-abb3-335536ae30bf
select` + generationColumns + `
from generations
where id = $1;
`

const QListGenerations = `--sql 4162063b-2589-4137-8790-e7a120dc78d9
select` + generationColumns + `
from generations
where user_id = $1
  and created_at >= $2
order by created_at desc;
`

const QDeleteGeneration = `--sql 9cfc408c-37a7-41b9-b405-aacc8eeda5e9
delete from generations
where id = $1
  and user_id = $2
returning original_image_url;
`

const QCleanupFailedForUser = `--sql 89011a4d-ad8a-47dd-905b-e4b30c2726f4
delete from generations
where user_id = $1
  and status = 'failed'
  and created_at < $2;
`

const QUpdateGenerationStatus = `--sql 1703d77c-57ba-42a8-9b35-441adb6aa4e7
update generations
set status = $2,
    error_message = coalesce($3, error_message),
    updated_at = now()
where id = $1;
`

// QUpdateGenerationFromCallback writes the full merged field set produced by
// the reconciler in a single atomic update.
const QUpdateGenerationFromCallback = `--sql df0faea6-7419-4a5f-92a7-768b217b57f7
update generations
set status = $2,
    generated_image_url = $3,
    error_message = $4,
    quality_score = $5,
    processing_time = $6,
    commercial_style = $7,
    target_audience = $8,
    brand_guidelines = $9,
    workflow_metadata = $10,
    external_execution_id = $11,
    workflow_version = $12,
    updated_at = now()
where id = $1
returning` + generationColumns + `;
`

const QSelectGenerationByPaymentRef = `--sql 989e51db-3f39-40ce-94b3-6ca369998225
select` + generationColumns + `
from generations
where payment_ref = $1;
`

const QStatsByStatus = `--sql 6ae5450c-e855-4698-9442-0349cf87b368
select status, count(*)
from generations
where user_id = $1
  and created_at >= $2
group by status;
`

// QAdminCleanupFailed removes stale failed rows across all users unless a
// user filter is supplied. Used by cmd/cleaner only.
const QAdminCleanupFailed = `--sql c3a4cfe8-8da1-4115-89c3-feef7e749ccf
delete from generations
where status = 'failed'
  and created_at < $1
  and ($2::uuid is null or user_id = $2::uuid);
`

const QAdminCountFailed = `--sql c5c67190-e77f-43f9-94d6-847745a7fcb6
select count(*)
from generations
where status = 'failed'
  and created_at < $1
  and ($2::uuid is null or user_id = $2::uuid);
`
