package sqlinline

// Column order for every job query: id, user_id, original_image_path,
// toonified_image_path, quality_level, status, stripe_session_id,
// stripe_payment_status, created_at, updated_at.

const QInsertJob = `--sql 157fb7b3-439f-4750-893b-a7110d257438
insert into user_images (id, user_id, original_image_path, quality_level, status, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, 'regular', 'not_toonified', now(), now())
returning id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
          stripe_session_id, stripe_payment_status, created_at, updated_at;
`

const QSelectJob = `--sql 3d123ee4-a6be-4aec-b06b-fbb895926ef5
select id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
       stripe_session_id, stripe_payment_status, created_at, updated_at
from user_images
where id = $1::uuid;
`

// QUpdateJobStatus writes unconditionally. The toonified path survives only
// on complete rows; the table check constraint enforces the same rule.
const QUpdateJobStatus = `--sql b1c365fe-041e-4633-9c86-75d6902bdbb6
update user_images
set status = $2::text,
    quality_level = coalesce($3::text, quality_level),
    stripe_session_id = coalesce($4::text, stripe_session_id),
    stripe_payment_status = coalesce($5::text, stripe_payment_status),
    toonified_image_path = case when $2::text = 'complete' then coalesce($6::text, toonified_image_path) else null end,
    updated_at = now()
where id = $1::uuid;
`

// QTransitionJobStatus is the conditional form of QUpdateJobStatus. It
// returns no row when the current status is not in $7, so a single statement
// claims the job without a separate lock.
const QTransitionJobStatus = `--sql 1e2aa6c3-c2b4-4ca1-a762-9838c5eda430
update user_images
set status = $2::text,
    quality_level = coalesce($3::text, quality_level),
    stripe_session_id = coalesce($4::text, stripe_session_id),
    stripe_payment_status = coalesce($5::text, stripe_payment_status),
    toonified_image_path = case when $2::text = 'complete' then coalesce($6::text, toonified_image_path) else null end,
    updated_at = now()
where id = $1::uuid
  and status = any($7::text[])
returning id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
          stripe_session_id, stripe_payment_status, created_at, updated_at;
`

const QSelectJobsByStatus = `--sql 6fb9f02e-e05a-4353-94f8-1440c16962f2
select id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
       stripe_session_id, stripe_payment_status, created_at, updated_at
from user_images
where status = $1::text
order by created_at asc
limit $2::int;
`

const QSelectJobsByOwner = `--sql 226854c1-6652-4063-96ec-9d542356a086
select id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
       stripe_session_id, stripe_payment_status, created_at, updated_at
from user_images
where user_id = $1::text
order by created_at desc;
`

const QSelectStaleJobs = `--sql 921ebebd-3c63-4bc5-98db-dfb7a0611564
select id::text, user_id, original_image_path, toonified_image_path, quality_level, status,
       stripe_session_id, stripe_payment_status, created_at, updated_at
from user_images
where status = $1::text
  and updated_at < $2::timestamptz
order by updated_at asc
limit $3::int;
`

const QDeleteJob = `--sql 91d283fc-cdfe-425f-b992-81491b3e4eca
delete from user_images
where id = $1::uuid;
`
